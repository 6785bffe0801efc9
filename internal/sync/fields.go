package sync

import (
	"time"

	"github.com/rennietech/mls-sync-core/internal/db"
)

func str(rec map[string]any, key string) string {
	if v, ok := rec[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolField(rec map[string]any, key string) bool {
	if v, ok := rec[key]; ok && v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func timeField(rec map[string]any, key string) time.Time {
	s := str(rec, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func intField(rec map[string]any, key string) *int {
	v, ok := rec[key]
	if !ok {
		return nil
	}
	return db.CoerceInt(v)
}

func floatField(rec map[string]any, key string) *float64 {
	v, ok := rec[key]
	if !ok {
		return nil
	}
	return db.CoerceFloat(v)
}

func stringSlice(rec map[string]any, key string) []string {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapSlice(rec map[string]any, key string) []map[string]any {
	v, ok := rec[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

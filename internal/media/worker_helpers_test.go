package media

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()
	soon := time.Now().Add(2 * time.Minute).Unix()
	past := time.Now().Add(-time.Hour).Unix()

	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"far future", "https://cdn.example.com/a.jpg?expires=" + strconv.FormatInt(future, 10), false},
		{"within five minute horizon", "https://cdn.example.com/a.jpg?expires=" + strconv.FormatInt(soon, 10), true},
		{"already past", "https://cdn.example.com/a.jpg?expires=" + strconv.FormatInt(past, 10), true},
		{"no expires param", "https://cdn.example.com/a.jpg", false},
		{"malformed url", "://bad", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isExpired(tc.url))
		})
	}
}

func TestMapSlice(t *testing.T) {
	rec := map[string]any{
		"Media": []any{
			map[string]any{"MediaKey": "m1"},
			map[string]any{"MediaKey": "m2"},
			"not-a-map",
		},
	}
	got := mapSlice(rec, "Media")
	assert.Len(t, got, 2)
	assert.Equal(t, "m1", got[0]["MediaKey"])
}

func TestMapSliceMissingKey(t *testing.T) {
	assert.Nil(t, mapSlice(map[string]any{}, "Media"))
}

func TestParseTime(t *testing.T) {
	got := parseTime("2026-01-02T03:04:05Z")
	assert.Equal(t, 2026, got.Year())

	assert.True(t, parseTime(nil).IsZero())
	assert.True(t, parseTime("not-a-time").IsZero())
}

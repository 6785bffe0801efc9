package upstream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FilterBuilder assembles an OData $filter expression from the clauses the
// sync drivers need: originating-system equality, an optional
// visibility clause, and an optional incremental modified-since clause.
type FilterBuilder struct {
	clauses []string
}

func NewFilter() *FilterBuilder { return &FilterBuilder{} }

func (f *FilterBuilder) OriginatingSystem(id string) *FilterBuilder {
	f.clauses = append(f.clauses, fmt.Sprintf("OriginatingSystemName eq '%s'", escape(id)))
	return f
}

func (f *FilterBuilder) Visibility(visible bool) *FilterBuilder {
	f.clauses = append(f.clauses, fmt.Sprintf("MlgCanView eq %t", visible))
	return f
}

func (f *FilterBuilder) ModifiedAfter(t time.Time) *FilterBuilder {
	if t.IsZero() {
		return f
	}
	f.clauses = append(f.clauses, fmt.Sprintf("ModificationTimestamp gt %s", t.UTC().Format(time.RFC3339)))
	return f
}

func (f *FilterBuilder) String() string {
	return strings.Join(f.clauses, " and ")
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// PageRequest describes one page of a resource query.
type PageRequest struct {
	Resource string
	Filter   string
	Expand   string
	Select   string
	Top      int
	OrderBy  string
}

// QueryString renders the request as an OData query string (without the
// leading resource path segment).
func (r PageRequest) QueryString() string {
	q := url.Values{}
	if r.Filter != "" {
		q.Set("$filter", r.Filter)
	}
	if r.Expand != "" {
		q.Set("$expand", r.Expand)
	}
	if r.Select != "" {
		q.Set("$select", r.Select)
	}
	if r.Top > 0 {
		q.Set("$top", strconv.Itoa(r.Top))
	}
	if r.OrderBy != "" {
		q.Set("$orderby", r.OrderBy)
	}
	return q.Encode()
}

// path returns the relative request path ("/Property?$filter=...") this
// page request resolves to.
func (r PageRequest) path() string {
	qs := r.QueryString()
	if qs == "" {
		return "/" + r.Resource
	}
	return "/" + r.Resource + "?" + qs
}

// stripVersionPrefix mirrors the teacher's nextLink handling: an absolute
// @odata.nextLink carries the provider's base URL and version prefix, which
// must be stripped before re-issuing the request through this client (it
// re-applies its own base URL and auth).
func stripVersionPrefix(base, nextLink string) (string, error) {
	nu, err := url.Parse(nextLink)
	if err != nil {
		return "", fmt.Errorf("parsing nextLink: %w", err)
	}
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	if bu.Path != "" && strings.HasPrefix(nu.Path, bu.Path) {
		rel := strings.TrimPrefix(nu.Path, bu.Path)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		if nu.RawQuery != "" {
			return rel + "?" + nu.RawQuery, nil
		}
		return rel, nil
	}
	// Not under our base path; fall back to using it as-is relative to host.
	if nu.RawQuery != "" {
		return nu.Path + "?" + nu.RawQuery, nil
	}
	return nu.Path, nil
}

// Package registry implements the users registry (C5): count/list/get/
// patch/delete with pagination, search, and sort helpers, per spec.md
// §4.3. The table, bucket, and file registries (internal/tables,
// internal/storage) do not use these helpers; they carry their own list
// logic.
package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/selfdb/gateway/internal/apierror"
)

// ListParams is the query shape for `GET /users/`.
type ListParams struct {
	Skip      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

// printableASCII matches spec.md §4.3's search-term pattern: no control
// characters, no SQL-meta surprises beyond what ILIKE already escapes.
var printableASCII = regexp.MustCompile(`^[\x20-\x7E]*$`)

// ValidateSearch rejects a search term containing non-printable-ASCII
// characters.
func ValidateSearch(term string) error {
	if !printableASCII.MatchString(term) {
		return apierror.BadInputErr("search term must be printable ASCII")
	}
	return nil
}

// ValidateSort checks sortBy against an allowlist (never interpolated
// raw otherwise) and normalizes sortOrder to "asc"/"desc".
func ValidateSort(sortBy string, allowed map[string]bool, sortOrder string) (string, string, error) {
	if sortBy == "" {
		return "", "", nil
	}
	if !allowed[sortBy] {
		return "", "", apierror.BadInputErr(fmt.Sprintf("cannot sort by %q", sortBy))
	}
	order := strings.ToLower(sortOrder)
	if order == "" {
		order = "asc"
	}
	if order != "asc" && order != "desc" {
		return "", "", apierror.BadInputErr("sort_order must be asc or desc")
	}
	return sortBy, order, nil
}

// ClampLimit enforces spec.md's per-collection page-size ceiling
// (≤100 for most collections, ≤500 for files/logs); 0/negative defaults
// to 20.
func ClampLimit(limit, max int) int {
	if limit <= 0 {
		return 20
	}
	if limit > max {
		return max
	}
	return limit
}

// OrderByClause renders `ORDER BY "col" ASC|DESC [NULLS LAST]` for a
// validated (sortBy, order) pair. nullable indicates whether the column
// can hold NULLs, triggering NULLS LAST per spec.md §4.3.
func OrderByClause(sortBy, order string, nullable bool) string {
	if sortBy == "" {
		return ""
	}
	clause := fmt.Sprintf(`ORDER BY %q %s`, sortBy, strings.ToUpper(order))
	if nullable {
		clause += " NULLS LAST"
	}
	return clause
}

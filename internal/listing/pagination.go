package listing

import (
	"math"
	"net/url"
	"strings"
)

// Pagination defaults and bounds.
const (
	DefaultPage = 1
	// DefaultLimit applies when the limit parameter is absent.
	DefaultLimit = 8
	// FallbackLimit applies when limit is present but unparsable or zero.
	FallbackLimit = 6
	MaxLimit      = 50
)

// maxParsed caps leading-integer parses so page arithmetic cannot overflow.
const maxParsed = math.MaxInt32

// PageRequest is the requested page and page size after defaulting and clamping.
type PageRequest struct {
	Page  int
	Limit int
}

// Pagination is the pagination block of a listing response.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	Limit       int  `json:"limit"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// ParsePageRequest reads page and limit from q. Values are parsed as a leading
// decimal integer ("12abc" is 12). page falls back to 1 and is at least 1.
// limit is 8 when absent, 6 when unparsable or zero, and clamped to [1, 50].
func ParsePageRequest(q url.Values) PageRequest {
	page := DefaultPage
	if n, ok := parseLeadingInt(q.Get("page")); ok && n != 0 {
		page = max(1, n)
	}

	limit := DefaultLimit
	if _, present := q["limit"]; present {
		limit = FallbackLimit
		if n, ok := parseLeadingInt(q.Get("limit")); ok && n != 0 {
			limit = min(MaxLimit, max(1, n))
		}
	}
	return PageRequest{Page: page, Limit: limit}
}

// parseLeadingInt parses an optional sign and the leading run of decimal digits,
// after leading whitespace. Anything after the digits is ignored. Magnitudes
// saturate at maxParsed.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for ; digits < len(s); digits++ {
		c := s[digits]
		if c < '0' || c > '9' {
			break
		}
		if n < maxParsed {
			n = min(maxParsed, n*10+int(c-'0'))
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// Paginate returns the items for req and the matching pagination block.
// totalPages is ceil(total/limit); a page past the end yields an empty slice.
func Paginate[T any](items []T, req PageRequest) ([]T, Pagination) {
	req.Page = max(1, req.Page)
	req.Limit = max(1, req.Limit)
	total := len(items)
	totalPages := (total + req.Limit - 1) / req.Limit

	page := []T{}
	if start := (req.Page - 1) * req.Limit; start < total {
		end := min(total, start+req.Limit)
		page = items[start:end]
	}

	return page, Pagination{
		CurrentPage: req.Page,
		TotalPages:  totalPages,
		TotalCount:  total,
		Limit:       req.Limit,
		HasNextPage: req.Page < totalPages,
		HasPrevPage: req.Page > 1,
	}
}

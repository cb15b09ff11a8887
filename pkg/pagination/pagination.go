package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const MaxLimit = 100

// Params holds optional paging parameters extracted from a request.
// A zero Limit means the caller did not ask for a page and gets everything.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset query parameters. Values that are not
// positive integers are ignored.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 0 {
		limit = 0
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Enabled reports whether the request asked for a page.
func (p Params) Enabled() bool {
	return p.Limit > 0 || p.Offset > 0
}

// HasMore returns true if there are results after the current page.
func (p Params) HasMore(total int) bool {
	if p.Limit == 0 {
		return false
	}
	return p.Offset+p.Limit < total
}

// Window returns the page of items selected by p. The result is never nil.
func Window[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return items[p.Offset:end]
}

// Body builds a list response keyed by name. Paged requests also get the
// total count and a hasMore flag.
func Body[T any](name string, items []T, p Params) map[string]interface{} {
	body := map[string]interface{}{name: Window(items, p)}
	if p.Enabled() {
		body["total"] = len(items)
		body["hasMore"] = p.HasMore(len(items))
	}
	return body
}

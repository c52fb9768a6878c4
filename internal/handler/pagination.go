package handler

import (
	"net/http"
	"strconv"
)

const (
	defaultDevicePage = 20
	maxDevicePage     = 100
)

// devicePage is the limit/offset window of GET /v1/users/{id}/devices.
type devicePage struct {
	Limit  int
	Offset int
}

// parseDevicePage reads ?limit and ?offset. Missing, malformed or
// out-of-range values fall back to defaults rather than failing the request.
func parseDevicePage(r *http.Request) devicePage {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 || limit > maxDevicePage {
		limit = defaultDevicePage
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return devicePage{Limit: limit, Offset: offset}
}

// bounds clamps the window to a list of total devices.
func (p devicePage) bounds(total int) (start, end int) {
	start = min(p.Offset, total)
	end = min(start+p.Limit, total)
	return start, end
}

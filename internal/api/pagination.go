package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/nimbus/models"
)

const (
	// DefaultPageCount is the page size used when the request gives none.
	DefaultPageCount = 50

	// MaxPageCount caps the page size to prevent excessive memory usage.
	MaxPageCount = 500
)

// parsePagination parses page and pageCount from query parameters. The
// page size is also accepted as page_count. Invalid values fall back to
// the defaults: page 0 and DefaultPageCount items per page.
func parsePagination(c echo.Context) (page, pageCount int) {
	pageCount = DefaultPageCount
	raw := c.QueryParam("pageCount")
	if raw == "" {
		raw = c.QueryParam("page_count")
	}
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			pageCount = parsed
			if pageCount > MaxPageCount {
				pageCount = MaxPageCount
			}
		}
	}

	if pageParam := c.QueryParam("page"); pageParam != "" {
		if parsed, err := strconv.Atoi(pageParam); err == nil && parsed >= 0 {
			page = parsed
		}
	}

	return page, pageCount
}

// paginate returns the window of instances shown on page. When page is
// past the end, the last pageCount items are returned so the final page is
// always full.
func paginate(instances models.Instances, page, pageCount int) models.Instances {
	skip := models.PageSkip(page, pageCount, len(instances))

	end := skip + pageCount
	if end > len(instances) {
		end = len(instances)
	}

	out := make(models.Instances, end-skip)
	copy(out, instances[skip:end])
	return out
}

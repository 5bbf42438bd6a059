package pagination

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ErrInvalidPage is returned when the requested page is not a positive integer.
var ErrInvalidPage = errors.New("page must be a positive integer")

// Params holds page-based pagination parameters.
type Params struct {
	Page     int
	PageSize int
}

// New validates page and normalizes pageSize. A page size outside
// [1, MaxPageSize] silently falls back to DefaultPageSize instead of
// being capped at the maximum.
func New(page, pageSize int) (Params, error) {
	if page <= 0 {
		return Params{}, ErrInvalidPage
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return Params{Page: page, PageSize: pageSize}, nil
}

// FromContext reads page and page_size from the query string. A missing page
// means the first page; a malformed one is rejected.
func FromContext(c echo.Context) (Params, error) {
	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, ErrInvalidPage
		}
		page = n
	}
	size, err := strconv.Atoi(c.QueryParam("page_size"))
	if err != nil {
		size = DefaultPageSize
	}
	return New(page, size)
}

// Limit is the SQL LIMIT for the page.
func (p Params) Limit() int {
	return p.PageSize
}

// Offset is the SQL OFFSET for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Response wraps a paginated API response.
type Response struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	HasMore  bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:     data,
		Total:    total,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  p.Offset()+p.PageSize < total,
	}
}

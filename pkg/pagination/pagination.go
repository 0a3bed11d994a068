package pagination

import (
	"fmt"
	"strconv"
)

// Params are parsed pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Response wraps a page of results with its paging metadata
type Response struct {
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Count int         `json:"count"`
	Data  interface{} `json:"data"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Parse reads page and limit query values. Out-of-range values are
// rejected rather than clamped.
func Parse(pageStr, limitStr string) (*Params, error) {
	page := DefaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p < 1 {
			return nil, fmt.Errorf("invalid page: %q", pageStr)
		}
		page = p
	}

	limit := DefaultLimit
	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > MaxLimit {
			return nil, fmt.Errorf("invalid limit: %q (max %d)", limitStr, MaxLimit)
		}
		limit = l
	}

	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}

// NewResponse builds the paged envelope for one result page
func NewResponse(params *Params, count int, data interface{}) *Response {
	return &Response{
		Page:  params.Page,
		Limit: params.Limit,
		Count: count,
		Data:  data,
	}
}

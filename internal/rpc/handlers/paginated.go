package handlers

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PaginatedResponse holds the common pagination fields.
type PaginatedResponse struct {
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
	Prev     *string `json:"prev"`
	Next     *string `json:"next"`
}

// ReturnPaginatedData populates the total count and constructs absolute URLs
// for prev and next based on the request's scheme, host, and path.
func (p *PaginatedResponse) ReturnPaginatedData(r *http.Request, total int) {
	p.Total = total

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)

	if p.Page > 1 {
		prev := fmt.Sprintf("%s?page=%d&page_size=%d", baseURL, p.Page-1, p.PageSize)
		p.Prev = &prev
	} else {
		p.Prev = nil
	}

	offsetEnd := (p.Page-1)*p.PageSize + p.PageSize
	if offsetEnd < total {
		nxt := fmt.Sprintf("%s?page=%d&page_size=%d", baseURL, p.Page+1, p.PageSize)
		p.Next = &nxt
	} else {
		p.Next = nil
	}
}

// ExtractPagination reads page and page_size from the query string. Missing
// or invalid values fall back to the defaults; the Atoi error, if any, is returned.
func ExtractPagination(r *http.Request) (int, int, error) {
	pageStr := r.URL.Query().Get("page")
	if pageStr == "" {
		pageStr = "1"
	}
	pageSizeStr := r.URL.Query().Get("page_size")
	if pageSizeStr == "" {
		pageSizeStr = strconv.Itoa(DefaultPageSize)
	}

	page, pageErr := strconv.Atoi(pageStr)
	if pageErr != nil || page < 1 {
		page = 1
	}

	pageSize, sizeErr := strconv.Atoi(pageSizeStr)
	if sizeErr != nil || pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	if pageErr != nil {
		return page, pageSize, pageErr
	}
	return page, pageSize, sizeErr
}

// Paginate returns the page of items, empty past the end.
func Paginate[R any](items []R, page, pageSize int) []R {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []R{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

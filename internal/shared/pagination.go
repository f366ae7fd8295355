package shared

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// NewPagination clamps page and perPage into range and derives the page count from total.
func NewPagination(page, perPage, total int) Pagination {
	switch {
	case perPage <= 0:
		perPage = defaultPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}
	page = max(page, 1)
	pages := (max(total, 0) + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: pages, HasNext: page < pages}
}

// Offset is the number of rows before the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

package sys

// PageSize returns the platform memory page size in bytes.
func PageSize() int {
	return osPageSize()
}

// RoundToPage rounds size up to a whole number of pages. Sizes below one
// page round up to exactly one page.
func RoundToPage(size int) int {
	page := PageSize()
	if size <= page {
		return page
	}
	return (size + page - 1) / page * page
}

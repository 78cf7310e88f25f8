package mcpservice

import "strconv"

// DefaultPageSize bounds list responses.
const DefaultPageSize = 50

// Page is one slice of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// paginate returns the page of all starting at cursor. Cursors are opaque
// to clients; here they are decimal offsets.
func paginate[T any](all []T, cursor string, size int) Page[T] {
	if size <= 0 {
		size = DefaultPageSize
	}
	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := min(start+size, len(all))
	items := make([]T, end-start)
	copy(items, all[start:end])
	p := Page[T]{Items: items}
	if end < len(all) {
		p.NextCursor = strconv.Itoa(end)
	}
	return p
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

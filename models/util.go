package models

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix
// Example: GenerateID("instance") -> "instance:uuid-here"
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, uuid.New().String())
}

// String returns a pointer to a copy of s, for optional string fields.
func String(s string) *string {
	return &s
}

// Int returns a pointer to a copy of n, for optional number fields.
func Int(n int) *int {
	return &n
}

// Pages returns the number of pages needed to list count items when each
// page holds pageCount items. A non-positive pageCount yields a single page.
func Pages(count, pageCount int) int {
	if count <= 0 {
		return 0
	}
	if pageCount <= 0 {
		return 1
	}
	return (count + pageCount - 1) / pageCount
}

// LastPage returns the index of the last page, 0 when there are no items.
func LastPage(count, pageCount int) int {
	if n := Pages(count, pageCount); n > 0 {
		return n - 1
	}
	return 0
}

// PageSkip returns the number of items to skip to show page. Requests past
// the end show the last pageCount items instead of an empty page.
func PageSkip(page, pageCount, count int) int {
	if page < 0 || pageCount <= 0 {
		return 0
	}
	return min(page*pageCount, max(0, count-pageCount))
}

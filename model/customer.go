package model

import "time"

type Customer struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is one page of matches. TotalItems counts every match, not
// just the ones on the page.
type SearchResult[T any] struct {
	TotalItems uint64 `json:"total_items"`
	Items      []T    `json:"items"`
}

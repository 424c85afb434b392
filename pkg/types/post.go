package types

import (
	"fmt"
	"strings"
)

// Post is a record of the "posts" collection.
type Post struct {
	UserID int    `json:"userId" firestore:"userId"`
	ID     int    `json:"id" firestore:"id"`
	Title  string `json:"title" firestore:"title"`
	Body   string `json:"body" firestore:"body"`
}

// GetID implements Record.
func (p Post) GetID() int { return p.ID }

// Validate requires a title and an author.
func (p Post) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: post title is required", ErrInvalidRecord)
	}
	if p.UserID <= 0 {
		return fmt.Errorf("%w: post userId must be positive, got %d", ErrInvalidRecord, p.UserID)
	}
	return nil
}

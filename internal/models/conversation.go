package models

import "time"

// Conversation groups an ordered sequence of messages.
// Messages are not held here; they are queried by conversation id.
type Conversation struct {
	ID        int64     `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

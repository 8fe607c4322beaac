package domain

import (
	"time"
)

// AnonymousAuthor marks pastes and comments created without a session.
const AnonymousAuthor = "Anonymous"

type Paste struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Comments  []Comment `json:"comments"`
	Views     []string  `json:"views"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PasteListing is the projection served on listing pages: a paste row
// already joined with its author's display name and group color.
type PasteListing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	Views       int       `json:"views"`
	AuthorName  string    `json:"author"`
	AuthorColor string    `json:"author_color"`
}

type CreateParams struct {
	Title  string
	Body   string
	Author string
}

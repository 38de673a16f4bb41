package storage

import (
	"time"
)

// QueryRecord is one entry of the local search history.
type QueryRecord struct {
	UserID     string    `json:"user_id"`
	Query      string    `json:"query"`
	TopK       int       `json:"top_k"`
	Results    int       `json:"results"`
	SearchedAt time.Time `json:"searched_at"`
}

// ImportRecord remembers the outcome of the last successful import per user.
type ImportRecord struct {
	UserID     string    `json:"user_id"`
	Ingested   int       `json:"ingested"`
	ImportedAt time.Time `json:"imported_at"`
}

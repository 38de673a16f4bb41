package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ResultID accepts both string and numeric ids on the wire.
type ResultID string

func (id *ResultID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ResultID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("result id must be a string or number: %w", err)
	}
	*id = ResultID(n.String())
	return nil
}

// Tags accepts the backend's comma-separated string as well as a JSON array.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	var raw []string
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.Split(s, ",")
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tags must be a string or an array: %w", err)
	}

	tags := make(Tags, 0, len(raw))
	for _, tag := range raw {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		tags = nil
	}
	*t = tags
	return nil
}

// SearchResult is one ranked item. The backend's order is the ranking.
type SearchResult struct {
	ID          ResultID `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	Tags        Tags     `json:"tags,omitempty"`
	Score       float64  `json:"score"`
}

// ScoreLabel formats the score the way result lists show it.
func (r SearchResult) ScoreLabel() string {
	return strconv.FormatFloat(r.Score, 'f', 3, 64)
}

type SearchQuery struct {
	Query  string
	UserID string
	TopK   int
}

// SearchResponse ignores the echoed user_id, which the backend sends as a
// number.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type IngestResult struct {
	Source   string `json:"source"`
	Ingested int    `json:"ingested"`
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

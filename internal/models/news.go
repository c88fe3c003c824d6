package models

import "time"

// NewsItem is a single card returned to the frontend.
type NewsItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Link        string `json:"link"`
}

// FetchedEvent is published to Kafka after a successful area lookup.
type FetchedEvent struct {
	FetchID   string     `json:"fetch_id"`
	Area      string     `json:"area"`
	FetchedAt time.Time  `json:"fetched_at"`
	Items     []NewsItem `json:"items"`
}

// NewsDocument represents the canonical structure stored in Elasticsearch.
type NewsDocument struct {
	ID          string    `json:"id"`
	FetchID     string    `json:"fetch_id"`
	Area        string    `json:"area"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Link        string    `json:"link"`
	URLs        []string  `json:"urls"`
	Keywords    []string  `json:"keywords"`
	FetchedAt   time.Time `json:"fetched_at"`
}

package domain

import "time"

// Document is a newly discovered page persisted by a crawl.
type Document struct {
	ID            string    `db:"id"             json:"id"`
	SourceID      string    `db:"source_id"      json:"source_id"`
	JobID         string    `db:"job_id"         json:"job_id"`
	URL           string    `db:"url"            json:"url"`
	NormalizedURL string    `db:"normalized_url" json:"normalized_url"`
	URLHash       string    `db:"url_hash"       json:"url_hash"`
	FoundOn       string    `db:"found_on"       json:"found_on"`
	DiscoveredAt  time.Time `db:"discovered_at"  json:"discovered_at"`
}

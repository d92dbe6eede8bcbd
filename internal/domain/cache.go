package domain

import "time"

// CacheEntry wraps an arbitrary cached payload with the content-type
// tag the hybrid cache uses to pick a TTL policy.
type CacheEntry struct {
	ContentType string    `json:"content_type"`
	Payload     []byte    `json:"payload"`
	StoredAt    time.Time `json:"stored_at"`
}

package models

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Name        string  `json:"name"`
	Entries     int64   `json:"entries"`
	Capacity    int     `json:"capacity"`
	Hits        int64   `json:"hits"`
	StaleHits   int64   `json:"stale_hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
	MemoryBytes int64   `json:"memory_bytes"`
}

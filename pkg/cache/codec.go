package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// snapshot is the durable form of an entry.
type snapshot[T any] struct {
	Key         string    `json:"key"`
	Value       T         `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

// codec turns snapshots into zstd-compressed JSON. EncodeAll and DecodeAll
// are safe for concurrent use.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

// encode returns the compressed blob and the uncompressed JSON size.
func encode[T any](c *codec, s snapshot[T]) ([]byte, int, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, 0, fmt.Errorf("encode cache entry: %w", err)
	}
	return c.enc.EncodeAll(raw, nil), len(raw), nil
}

// decode returns the snapshot and its uncompressed JSON size, the same
// unit encode reports.
func decode[T any](c *codec, blob []byte) (snapshot[T], int, error) {
	var s snapshot[T]
	raw, err := c.dec.DecodeAll(blob, nil)
	if err != nil {
		return s, 0, fmt.Errorf("decompress cache entry: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, 0, fmt.Errorf("decode cache entry: %w", err)
	}
	if s.Key == "" || !s.ExpiresAt.After(s.CreatedAt) {
		return s, 0, fmt.Errorf("decode cache entry: invalid timestamps for %q", s.Key)
	}
	return s, len(raw), nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

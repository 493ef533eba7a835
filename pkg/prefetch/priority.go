package prefetch

import (
	"fmt"
	"strings"
	"time"
)

// Priority orders refresh jobs. Higher values run first.
type Priority int

const (
	Low Priority = iota + 1
	Medium
	High
)

// Delay is how long a newly scheduled job waits before it is due.
func (p Priority) Delay() time.Duration {
	switch p {
	case High:
		return time.Second
	case Medium:
		return 30 * time.Second
	default:
		return 300 * time.Second
	}
}

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts "high", "medium" or "low".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "medium", "":
		return Medium, nil
	case "low":
		return Low, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}

func TestFakeTickerFires(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	select {
	case <-tk.C():
		t.Fatal("ticker fired before time advanced")
	default:
	}

	c.Advance(time.Second)
	select {
	case at := <-tk.C():
		assert.Equal(t, time.Unix(1, 0), at)
	default:
		t.Fatal("expected tick after one period")
	}
}

func TestFakeTickerDropsUndrained(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)

	c.Advance(5 * time.Second)
	require.Len(t, tk.C(), 1)
	<-tk.C()

	tk.Stop()
	c.Advance(5 * time.Second)
	assert.Len(t, tk.C(), 0)
}

func TestFakeSetSkipsTicks(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	c.Set(time.Unix(10, 0))
	assert.Len(t, tk.C(), 0)

	c.Advance(time.Second)
	assert.Len(t, tk.C(), 1)
}

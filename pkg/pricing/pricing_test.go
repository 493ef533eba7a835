package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipforge/clipforge/pkg/models"
)

func TestEstimate(t *testing.T) {
	tbl := NewTable(Default())

	assert.InDelta(t, 0.05+0.004*60, tbl.Estimate("shotstack", 60), 1e-9)
	assert.InDelta(t, 0.3, tbl.Estimate("elevenlabs", 1000), 1e-9)
	assert.Equal(t, 0.0, tbl.Estimate("unknown", 100))
	assert.Equal(t, 0.05, tbl.Estimate("shotstack", -5))

	var nilTable *Table
	assert.Equal(t, 0.0, nilTable.Estimate("shotstack", 1))
}

func TestOverrides(t *testing.T) {
	tbl := NewTable(append(Default(), models.ProviderPricing{Provider: "openai", PerCall: 1}))
	p, ok := tbl.Lookup("openai")
	assert.True(t, ok)
	assert.Equal(t, 1.0, p.PerCall)
	assert.Len(t, tbl.All(), 4)
	assert.Equal(t, "elevenlabs", tbl.All()[0].Provider)
}

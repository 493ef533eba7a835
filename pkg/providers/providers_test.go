package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/config"
	"github.com/clipforge/clipforge/pkg/pricing"
)

func TestBuildSimulate(t *testing.T) {
	set, err := Build(config.Default().Providers, pricing.NewTable(pricing.Default()), true)
	require.NoError(t, err)
	assert.Nil(t, set.Enhancer)
	assert.Nil(t, set.Synthesizer)
	assert.Nil(t, set.Renderer)
	assert.Nil(t, set.Discovery)
}

func TestBuildMissingCredentials(t *testing.T) {
	cfg := config.Default().Providers
	cfg.OpenAI.APIKey = "sk"
	_, err := Build(cfg, nil, false)
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.Contains(t, err.Error(), "speech")
	assert.Contains(t, err.Error(), "render")
	assert.NotContains(t, err.Error(), "openai")
}

func TestBuild(t *testing.T) {
	cfg := config.Default().Providers
	cfg.OpenAI.APIKey = "sk"
	cfg.Speech.APIKey = "xi"
	cfg.Render.APIKey = "ss"

	set, err := Build(cfg, pricing.NewTable(pricing.Default()), false)
	require.NoError(t, err)
	assert.NotNil(t, set.Enhancer)
	assert.NotNil(t, set.Synthesizer)
	assert.NotNil(t, set.Renderer)
	assert.NotNil(t, set.Discovery)
	assert.Same(t, set.Reddit, set.Discovery)
}

func TestNames(t *testing.T) {
	n := Names(config.ProvidersConfig{})
	assert.Equal(t, "reddit", n.Discovery)
	assert.Equal(t, "openai", n.Enhance)
	assert.Equal(t, "elevenlabs", n.Speech)
	assert.Equal(t, "shotstack", n.Render)
}

func TestNewDiscoveryNeedsNoCredentials(t *testing.T) {
	r := NewDiscovery(config.Default().Providers.Discovery)
	assert.NotNil(t, r)
}

package narrative

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	insight "machine-monitor/internal/insight/domain"
)

func TestNewSelectsProvider(t *testing.T) {
	g, err := New(context.Background(), Settings{})
	require.NoError(t, err)
	assert.Equal(t, ProviderTemplate, insight.ProviderName(g))

	g, err = New(context.Background(), Settings{Provider: "HTTP", HTTPURL: "http://localhost:9/narrative"})
	require.NoError(t, err)
	assert.Equal(t, ProviderHTTP, insight.ProviderName(g))

	_, err = New(context.Background(), Settings{Provider: ProviderHTTP})
	assert.Error(t, err)
	_, err = New(context.Background(), Settings{Provider: ProviderGemini})
	assert.Error(t, err)
	_, err = New(context.Background(), Settings{Provider: "openai"})
	assert.ErrorContains(t, err, "unknown provider")
}

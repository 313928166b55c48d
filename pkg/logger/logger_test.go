package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc-123")
	assert.Equal(t, "abc-123", CorrelationIDFromContext(ctx))
}

func TestCorrelationIDFromEmptyContext(t *testing.T) {
	assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
	assert.Equal(t, "", CorrelationIDFromContext(nil))
}

func TestGetReturnsFallbackWithoutInit(t *testing.T) {
	log = nil
	assert.NotNil(t, Get())
}

func TestInitProduction(t *testing.T) {
	assert.NoError(t, Init("production"))
	assert.NotNil(t, Get())
}

package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestFromContextFallsBackToProcessLogger(t *testing.T) {
	assert.Same(t, Get(), FromContext(context.Background()))
	assert.Same(t, Get(), FromContext(nil))
}

func TestFromContextReturnsAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf).With().Str("request_id", "req-1").Logger()
	ctx := l.WithContext(context.Background())

	FromContext(ctx).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Same(t, zerolog.Ctx(ctx), FromContext(ctx))
}

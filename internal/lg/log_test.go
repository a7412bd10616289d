package lg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.IsType(t, defaultLogger{}, FromContext(context.Background()))
}

func TestAttachRoundTrip(t *testing.T) {
	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "", flatten())
	out := flatten(String("host", "sdw1"), Int("attempt", 3), Err(errors.New("boom")))
	assert.Contains(t, out, "sdw1")
	assert.Contains(t, out, "3")
	assert.Contains(t, out, "boom")
}

func TestDefaultLoggerWithKeepsParentFields(t *testing.T) {
	parent := defaultLogger{}.With(String("a", "1")).(defaultLogger)
	child := parent.With(String("b", "2")).(defaultLogger)
	assert.Len(t, parent.fields, 1)
	assert.Len(t, child.fields, 2)
}

func TestNewConsoleLogger(t *testing.T) {
	l := New(&Config{ServiceName: "test", Format: "console"})
	assert.NotNil(t, l)
	l.With(String("k", "v")).Debug("debug is filtered in production config")
}

package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopWithoutApplication(t *testing.T) {
	ctx := NewContext(context.Background(), nil)

	_, ok := fromContext(ctx)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		RecordCount(ctx, "count", 1)
		RecordDuration(ctx, "duration", time.Second)
		RecordEvent(ctx, "event", map[string]interface{}{"key": "value"})

		tracer := TraceMethodCall(ctx, "metrics", "TestNoopWithoutApplication")
		assert.Nil(t, tracer)
		tracer.AddAttribute("key", "value")
		tracer.AddAttributes(map[string]interface{}{"key": "value"})
		tracer.OnError(errors.New("failure"))
		tracer.End()
	})
}

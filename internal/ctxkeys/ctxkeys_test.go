package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := SessionID(ctx)
	assert.False(t, ok)
	assert.Equal(t, DefaultLocale, Locale(ctx))

	ctx = WithSessionID(ctx, "s1")
	ctx = WithRunID(ctx, "r1")
	ctx = WithTraceID(ctx, "t1")
	ctx = WithLocale(ctx, "zh")
	ctx = WithRequestID(ctx, "req-1")

	sid, ok := SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)
	rid, _ := RunID(ctx)
	assert.Equal(t, "r1", rid)
	tid, _ := TraceID(ctx)
	assert.Equal(t, "t1", tid)
	assert.Equal(t, "zh", Locale(ctx))
	reqID, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", reqID)

	_, ok = Subject(ctx)
	assert.False(t, ok)
	sub, ok := Subject(WithSubject(ctx, "user-7"))
	assert.True(t, ok)
	assert.Equal(t, "user-7", sub)

	_, ok = RunID(WithRunID(context.Background(), ""))
	assert.False(t, ok)
}

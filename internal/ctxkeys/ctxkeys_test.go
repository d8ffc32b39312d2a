package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "s1")
	ctx = WithExecutionID(ctx, "e1")
	ctx = WithPrincipal(ctx, "alice")

	for _, tc := range []struct {
		get  func(context.Context) (string, bool)
		want string
	}{
		{RequestID, "req-1"},
		{SessionID, "s1"},
		{ExecutionID, "e1"},
		{Principal, "alice"},
	} {
		v, ok := tc.get(ctx)
		assert.True(t, ok)
		assert.Equal(t, tc.want, v)
	}

	_, ok = SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok, "empty values are absent")
}

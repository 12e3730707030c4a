package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

func TestFromContextMissing(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.Equal(t, resource.KindNoActorInScope, resource.KindOf(err))
}

func TestWithAndFromContext(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := With(context.Background(), "alice", now)

	s, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Actor)
	assert.True(t, s.Now.Equal(now))

	actor, err := Actor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", actor)

	got, err := Now(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(now))
}

func TestScopeInheritedBySpawnedGoroutine(t *testing.T) {
	ctx := WithNow(context.Background(), "bob")
	done := make(chan string, 1)
	go func(ctx context.Context) {
		actor, _ := Actor(ctx)
		done <- actor
	}(ctx)
	assert.Equal(t, "bob", <-done)
}

package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/threadsync/pkg/thread"
)

func TestSessionProvider_Restore(t *testing.T) {
	provider := NewSessionProvider()
	parent := thread.New(providerTestThreadID)

	sess := provider.Restore(context.Background(), parent)
	require.NotNil(t, sess)
	assert.Same(t, parent, sess.Thread())
	assert.Same(t, sess, provider.Get(sess.ID()))
	assert.Equal(t, 1, provider.Len())
}

func TestSessionProvider_FreshPerRequest(t *testing.T) {
	provider := NewSessionProvider()
	parent := thread.New(providerTestThreadID)
	ctx := context.Background()

	first := provider.Restore(ctx, parent)
	second := provider.Restore(ctx, parent)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, provider.Len())
}

func TestSessionProvider_SaveCompletes(t *testing.T) {
	provider := NewSessionProvider()
	ctx := context.Background()

	sess := provider.Restore(ctx, thread.New(providerTestThreadID))

	var completed bool
	sess.Subscribe(thread.EventCompleted, func(context.Context) error {
		completed = true
		return nil
	})

	provider.Save(ctx, sess)

	assert.True(t, completed)
	assert.Nil(t, provider.Get(sess.ID()))
	assert.Equal(t, 0, provider.Len())
}

package thread

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSessionID = "b2c3d4e5f60718293a4b5c6d7e8f9012"

func TestNewSession(t *testing.T) {
	parent := New(testThreadID)
	sess := NewSession(testSessionID, parent)

	assert.Equal(t, testSessionID, sess.ID())
	assert.Same(t, parent, sess.Thread())
	assert.Equal(t, 0, sess.State().Len())
}

func TestSession_StateIndependentOfThread(t *testing.T) {
	parent := New(testThreadID)
	sess := NewSession(testSessionID, parent)

	sess.State().Set("scratch", "value")
	assert.False(t, parent.State().Has("scratch"))

	parent.State().Set("durable", "value")
	assert.False(t, sess.State().Has("durable"))
}

func TestSession_SerializeUserDataCap(t *testing.T) {
	sess := NewSession(testSessionID, New(testThreadID))
	sess.State().Set("blob", strings.Repeat("x", 2*MaxSerializedBytes))

	assert.Nil(t, sess.SerializeUserData())

	sess.State().Delete("blob")
	sess.State().Set("k", "v")
	assert.JSONEq(t, `{"k":"v"}`, string(sess.SerializeUserData()))
}

func TestSession_CompleteFiresAndClears(t *testing.T) {
	sess := NewSession(testSessionID, New(testThreadID))

	var fired []string
	sess.Subscribe(EventCompleted, func(context.Context) error {
		fired = append(fired, "a")
		return errors.New("listener boom")
	})
	sess.Subscribe(EventCompleted, func(context.Context) error {
		fired = append(fired, "b")
		return nil
	})

	sess.Complete(context.Background())
	assert.Equal(t, []string{"a", "b"}, fired)

	fired = nil
	sess.Complete(context.Background())
	assert.Empty(t, fired)
}

package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/go-crudcache/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_Messages(t *testing.T) {
	testCases := []struct {
		name       string
		collection string
		op         notify.Op
		err        error
		want       string
		severity   notify.Severity
	}{
		{"user created", "users", notify.OpCreate, nil, "User created successfully!", notify.SeveritySuccess},
		{"user update failed", "users", notify.OpUpdate, errors.New("x"), "Error updating user", notify.SeverityError},
		{"post deleted", "posts", notify.OpDelete, nil, "Post deleted successfully!", notify.SeveritySuccess},
		{"post create failed", "posts", notify.OpCreate, errors.New("x"), "Error creating post", notify.SeverityError},
		{"list failed", "posts", notify.OpList, errors.New("x"), "Error loading posts", notify.SeverityError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := notify.Outcome(tc.collection, tc.op, 7, tc.err)

			assert.Equal(t, tc.want, n.Message)
			assert.Equal(t, tc.severity, n.Severity)
			assert.Equal(t, 7, n.RecordID)
			assert.NotEmpty(t, n.ID)
			assert.False(t, n.Time.IsZero())
			if tc.err != nil {
				assert.Equal(t, tc.err.Error(), n.Error)
			}
		})
	}
}

func TestInMemoryNotifier(t *testing.T) {
	ctx := context.Background()
	m := notify.NewInMemoryNotifier(3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Notify(ctx, notify.Notification{RecordID: i}))
	}

	recent := m.Recent(0)
	require.Len(t, recent, 3, "only the newest notifications are kept")
	assert.Equal(t, 5, recent[0].RecordID)
	assert.Equal(t, 3, recent[2].RecordID)

	assert.Len(t, m.Recent(2), 2)
	assert.Len(t, m.Recent(10), 3)
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, notify.Notification) error { return f.err }

func TestMultiNotifier(t *testing.T) {
	ctx := context.Background()
	first := notify.NewInMemoryNotifier(5)
	last := notify.NewInMemoryNotifier(5)
	boom := errors.New("boom")

	multi := notify.MultiNotifier{first, failingNotifier{err: boom}, last}
	err := multi.Notify(ctx, notify.Notification{Message: "hi"})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Recent(0), 1)
	assert.Len(t, last.Recent(0), 1, "a failing notifier must not stop the others")
}

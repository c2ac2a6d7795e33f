package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
)

func TestLoadBoundedNewestFirst(t *testing.T) {
	be := backend.NewMemory()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := be.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyInfo, Title: fmt.Sprintf("event %d", i)})
		require.NoError(t, err)
	}

	c := New(be, 3, nil)
	c.SetIdentity("u1")
	require.NoError(t, c.Load(ctx))

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, "event 5", all[0].Title)
	assert.Equal(t, "event 3", all[2].Title)
	assert.Equal(t, 3, c.UnreadCount())
}

func TestAddIsOptimisticAndReconciled(t *testing.T) {
	be := backend.NewMemory()
	c := New(be, 50, nil)
	c.SetIdentity("u1")
	be.Hold()

	added := c.Add(model.Notification{Type: model.NotifySuccess, Title: "Project created"})
	assert.True(t, model.IsTempID(added.ID))

	all := c.All()
	require.Len(t, all, 1)
	assert.True(t, model.IsTempID(all[0].ID))

	be.Release()
	c.Flush()

	all = c.All()
	require.Len(t, all, 1)
	assert.False(t, model.IsTempID(all[0].ID))
	assert.Equal(t, "Project created", all[0].Title)
}

func TestAddSoftFailKeepsLocalEntry(t *testing.T) {
	be := backend.NewMemory()
	be.FailNext("InsertNotification", errors.New("table missing"))
	c := New(be, 50, nil)
	c.SetIdentity("u1")

	added := c.Add(model.Notification{Type: model.NotifyError, Title: "Sync failed"})
	c.Flush()

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, added.ID, all[0].ID)
	assert.True(t, model.IsTempID(all[0].ID))
}

func TestAddWithoutIdentityIsLocalOnly(t *testing.T) {
	be := backend.NewMemory()
	c := New(be, 50, nil)

	c.Add(model.Notification{Type: model.NotifyInfo, Title: "Welcome"})
	c.Flush()

	require.Len(t, c.All(), 1)
	// Nothing was written remotely.
	remote, err := be.ListNotifications(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, remote)

	// The local-only entry does not survive an identity change.
	c.SetIdentity("u1")
	assert.Empty(t, c.All())
}

func TestReadStateAndRemoval(t *testing.T) {
	be := backend.NewMemory()
	ctx := context.Background()
	id1, err := be.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyInfo, Title: "one"})
	require.NoError(t, err)
	_, err = be.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyWarning, Title: "two"})
	require.NoError(t, err)

	c := New(be, 50, nil)
	c.SetIdentity("u1")
	require.NoError(t, c.Load(ctx))
	require.Equal(t, 2, c.UnreadCount())

	c.MarkRead(id1)
	assert.Equal(t, 1, c.UnreadCount())
	c.Flush()

	// Persisted: a fresh load sees the read flag.
	require.NoError(t, c.Load(ctx))
	assert.Equal(t, 1, c.UnreadCount())

	c.MarkAllRead()
	assert.Equal(t, 0, c.UnreadCount())
	c.Flush()

	c.Remove(id1)
	assert.Len(t, c.All(), 1)
	c.Flush()
	require.NoError(t, c.Load(ctx))
	assert.Len(t, c.All(), 1)

	c.ClearAll()
	assert.Empty(t, c.All())
	c.Flush()
	require.NoError(t, c.Load(ctx))
	assert.Empty(t, c.All())
}

func TestMergeReplacesOrPrepends(t *testing.T) {
	be := backend.NewMemory()
	c := New(be, 2, nil)
	c.SetIdentity("u1")

	c.Merge(model.Notification{ID: "n-1", Type: model.NotifyInfo, Title: "first"})
	c.Merge(model.Notification{ID: "n-2", Type: model.NotifyInfo, Title: "second"})

	// Replay of n-2 replaces in place.
	c.Merge(model.Notification{ID: "n-2", Type: model.NotifyInfo, Title: "second", Read: true})
	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "n-2", all[0].ID)
	assert.True(t, all[0].Read)

	// A third distinct entry pushes the oldest out past the bound.
	c.Merge(model.Notification{ID: "n-3", Type: model.NotifyInfo, Title: "third"})
	all = c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "n-3", all[0].ID)
	assert.Equal(t, "n-2", all[1].ID)
}

func TestSetIdentitySwitchDropsStaleReconciliation(t *testing.T) {
	be := backend.NewMemory()
	c := New(be, 50, nil)
	c.SetIdentity("u1")
	be.Hold()

	c.Add(model.Notification{Type: model.NotifyInfo, Title: "for u1"})

	// Identity switches while the insert is pending.
	c.SetIdentity("u2")
	be.Release()
	c.Flush()

	assert.Empty(t, c.All())
}

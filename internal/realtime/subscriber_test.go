package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
	"shipcode/client/internal/notify"
	"shipcode/client/internal/session"
)

func newRig(t *testing.T) (*backend.Memory, *notify.Center, *session.Manager, *Subscriber) {
	t.Helper()
	be := backend.NewMemory()
	be.SeedIdentity(model.Identity{ID: "u1", DisplayName: "Alex Builder", Role: model.RoleAdmin}, "alex@shipcode.dev", "hunter22")
	be.SeedIdentity(model.Identity{ID: "u2", DisplayName: "Bia Ops", Role: model.RoleManager}, "bia@shipcode.dev", "hunter23")
	center := notify.New(be, 50, nil)
	mgr := session.NewManager(be, 0, nil)
	sub := New(be, center, nil)
	sub.Bind(mgr)
	return be, center, mgr, sub
}

func TestSubscribesOnLoginAndReceivesPush(t *testing.T) {
	be, center, mgr, _ := newRig(t)
	ctx := context.Background()

	require.NoError(t, mgr.Login(ctx, "alex@shipcode.dev", "hunter22"))
	assert.Equal(t, 1, be.ActiveSubscriptions())
	assert.Equal(t, []string{backend.NotificationChannel("u1")}, be.SubscribeLog())

	be.PublishNotification("u1", model.Notification{ID: "n-9", Type: model.NotifyInfo, Title: "New lead assigned"})

	all := center.All()
	require.Len(t, all, 1)
	assert.Equal(t, "n-9", all[0].ID)
}

func TestUnsubscribesOnLogout(t *testing.T) {
	be, center, mgr, _ := newRig(t)
	ctx := context.Background()

	require.NoError(t, mgr.Login(ctx, "alex@shipcode.dev", "hunter22"))
	require.NoError(t, mgr.Logout(ctx))

	assert.Equal(t, 0, be.ActiveSubscriptions())
	assert.Empty(t, center.All())

	// A stray frame after sign-out goes nowhere.
	be.PublishNotification("u1", model.Notification{ID: "n-9", Type: model.NotifyInfo, Title: "late"})
	assert.Empty(t, center.All())
}

func TestIdentitySwitchTearsDownBeforeResubscribe(t *testing.T) {
	be, center, mgr, _ := newRig(t)
	ctx := context.Background()

	require.NoError(t, mgr.Login(ctx, "alex@shipcode.dev", "hunter22"))
	require.NoError(t, mgr.Logout(ctx))
	require.NoError(t, mgr.Login(ctx, "bia@shipcode.dev", "hunter23"))

	assert.Equal(t, 1, be.ActiveSubscriptions())
	assert.Equal(t, []string{
		backend.NotificationChannel("u1"),
		backend.NotificationChannel("u2"),
	}, be.SubscribeLog())

	// Frames for the previous identity must not land in the new feed.
	be.PublishNotification("u1", model.Notification{ID: "n-1", Type: model.NotifyInfo, Title: "for alex"})
	assert.Empty(t, center.All())

	be.PublishNotification("u2", model.Notification{ID: "n-2", Type: model.NotifyInfo, Title: "for bia"})
	all := center.All()
	require.Len(t, all, 1)
	assert.Equal(t, "n-2", all[0].ID)
}

func TestLoginLoadsExistingFeed(t *testing.T) {
	be, center, mgr, _ := newRig(t)
	ctx := context.Background()
	_, err := be.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyWarning, Title: "Contract pending"})
	require.NoError(t, err)

	require.NoError(t, mgr.Login(ctx, "alex@shipcode.dev", "hunter22"))

	all := center.All()
	require.Len(t, all, 1)
	assert.Equal(t, "Contract pending", all[0].Title)
}

func TestSubscribeFailureIsSoft(t *testing.T) {
	be, center, mgr, _ := newRig(t)
	ctx := context.Background()
	_, err := be.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyInfo, Title: "queued"})
	require.NoError(t, err)

	be.FailNext("Subscribe", context.DeadlineExceeded)
	require.NoError(t, mgr.Login(ctx, "alex@shipcode.dev", "hunter22"))

	// No push channel, but the request/response feed still loaded.
	assert.Equal(t, 0, be.ActiveSubscriptions())
	assert.Len(t, center.All(), 1)
}

package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcode/client/internal/model"
)

func TestMemoryAuthFlow(t *testing.T) {
	m := NewMemory()
	m.SeedIdentity(model.Identity{ID: "u1", DisplayName: "Alex Builder", Role: model.RoleAdmin}, "alex@shipcode.dev", "hunter22")
	ctx := context.Background()

	_, err := m.Authenticate(ctx, "alex@shipcode.dev", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_credentials", authErr.Code)

	sess, err := m.Authenticate(ctx, "alex@shipcode.dev", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.IdentityID)

	restored, err := m.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, sess.Token, restored.Token)

	require.NoError(t, m.InvalidateSession(ctx, sess))
	restored, err = m.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, restored)
	assert.Equal(t, 1, m.InvalidationCount())
}

func TestMemoryFailNextIsOneShot(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailNext("ListLeads", boom)
	ctx := context.Background()

	_, err := m.ListLeads(ctx)
	require.ErrorIs(t, err, boom)

	_, err = m.ListLeads(ctx)
	require.NoError(t, err)
}

func TestMemoryInsertNotificationPublishes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got []Event
	cancel, err := m.Subscribe(ctx, NotificationChannel("u1"), func(ev Event) { got = append(got, ev) })
	require.NoError(t, err)
	defer cancel()

	id, err := m.InsertNotification(ctx, "u1", model.Notification{Type: model.NotifyInfo, Title: "hello"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, EventInsert, got[0].Kind)
	assert.Equal(t, id, got[0].Notification.ID)
}

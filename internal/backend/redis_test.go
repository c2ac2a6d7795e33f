package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shipcode/client/internal/model"
)

func setupSessions(t *testing.T, ttl time.Duration) (*RedisSessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisSessions("redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSessionSaveLookupRevoke(t *testing.T) {
	store, _ := setupSessions(t, time.Hour)
	ctx := context.Background()

	sess := Session{Token: "tok-1", IdentityID: "u1"}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.IdentityID)

	require.NoError(t, store.Revoke(ctx, "tok-1"))
	got, err = store.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Revoking twice is harmless.
	require.NoError(t, store.Revoke(ctx, "tok-1"))
}

func TestSessionLookupMissing(t *testing.T) {
	store, _ := setupSessions(t, time.Hour)

	got, err := store.Lookup(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionTTLSlidesOnLookup(t *testing.T) {
	store, mr := setupSessions(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Session{Token: "tok-2", IdentityID: "u2"}))

	mr.FastForward(45 * time.Second)
	got, err := store.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.NotNil(t, got)

	// The lookup pushed expiry a full minute out again.
	mr.FastForward(45 * time.Second)
	got, err = store.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	require.NotNil(t, got)

	mr.FastForward(2 * time.Minute)
	got, err = store.Lookup(ctx, "tok-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBrokerPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(client, nil)
	t.Cleanup(func() { _ = broker.Close() })

	ctx := context.Background()
	received := make(chan Event, 1)
	cancel, err := broker.Subscribe(ctx, NotificationChannel("u1"), func(ev Event) {
		received <- ev
	})
	require.NoError(t, err)
	defer cancel()

	notif := model.Notification{ID: "n-1", Type: model.NotifySuccess, Title: "Contract signed"}
	require.NoError(t, broker.Publish(ctx, NotificationChannel("u1"), Event{Kind: EventInsert, Notification: notif}))

	select {
	case ev := <-received:
		assert.Equal(t, EventInsert, ev.Kind)
		assert.Equal(t, "n-1", ev.Notification.ID)
		assert.Equal(t, model.NotifySuccess, ev.Notification.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(client, nil)
	t.Cleanup(func() { _ = broker.Close() })

	ctx := context.Background()
	received := make(chan Event, 4)
	cancel, err := broker.Subscribe(ctx, "notifications:user:u2", func(ev Event) {
		received <- ev
	})
	require.NoError(t, err)

	cancel()
	// Cancel twice: must not panic.
	cancel()

	_ = broker.Publish(ctx, "notifications:user:u2", Event{Kind: EventInsert})
	select {
	case <-received:
		t.Fatal("event delivered after cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

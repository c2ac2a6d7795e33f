// Package realtime bridges the backend push channel into the notification
// feed and ties subscription lifetime to the signed-in identity.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
	"shipcode/client/internal/notify"
	"shipcode/client/internal/session"
)

// Subscriber owns at most one push subscription at a time, always for the
// current identity. Identity changes tear the old channel down before the
// new feed is touched, so a frame for the previous user can never land in
// the next user's feed.
type Subscriber struct {
	rt     backend.Realtime
	center *notify.Center
	log    *slog.Logger

	mu     sync.Mutex
	cancel func()
}

func New(rt backend.Realtime, center *notify.Center, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{rt: rt, center: center, log: log}
}

// Bind attaches the subscriber to the session lifecycle.
func (s *Subscriber) Bind(mgr *session.Manager) {
	mgr.OnChange(s.identityChanged)
}

func (s *Subscriber) identityChanged(identity *model.Identity) {
	s.unsubscribe()

	if identity == nil {
		s.center.SetIdentity("")
		return
	}
	s.center.SetIdentity(identity.ID)

	ctx := context.Background()
	cancel, err := s.rt.Subscribe(ctx, backend.NotificationChannel(identity.ID), s.handle)
	if err != nil {
		// The feed still works request/response; only pushes are lost.
		s.log.Warn("push subscription failed", "identityID", identity.ID, "error", err)
	} else {
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
	}

	// Subscribe before load: a frame racing the initial fetch merges by
	// identifier and converges either way.
	if err := s.center.Load(ctx); err != nil {
		s.log.Warn("notification load failed", "identityID", identity.ID, "error", err)
	}
}

func (s *Subscriber) handle(ev backend.Event) {
	switch ev.Kind {
	case backend.EventInsert:
		s.center.Merge(ev.Notification)
	default:
		s.log.Debug("ignoring push frame", "kind", ev.Kind)
	}
}

// Close tears down the active subscription, if any.
func (s *Subscriber) Close() {
	s.unsubscribe()
}

func (s *Subscriber) unsubscribe() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

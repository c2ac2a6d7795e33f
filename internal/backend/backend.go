// Package backend defines the contract consumed from the remote
// persistence and authentication collaborator, plus the adapters that
// implement it. The data layer never depends on a concrete adapter.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shipcode/client/internal/model"
)

// Session is an opaque handle to a backend authentication session.
type Session struct {
	Token      string
	IdentityID string
	ExpiresAt  time.Time
}

// AuthError is a credential failure surfaced to the login caller with a
// human-readable reason. It never escapes past the session manager.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// ErrProfileNotFound means a valid session resolved to no identity.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNotFound is returned for missing entities on update/delete.
	ErrNotFound = errors.New("not found")
)

// Auth is the authentication surface of the collaborator.
type Auth interface {
	// Authenticate exchanges credentials for a session. Credential
	// failures come back as *AuthError.
	Authenticate(ctx context.Context, email, password string) (Session, error)
	// GetSession restores a previously established session. A nil session
	// with a nil error means no session exists; that is not a failure.
	GetSession(ctx context.Context) (*Session, error)
	InvalidateSession(ctx context.Context, s Session) error
	FetchProfile(ctx context.Context, identityID string) (model.Identity, error)
}

// Data is the per-entity CRUD surface. Inserts return the authoritative
// identifier assigned by the backend.
type Data interface {
	Organization(ctx context.Context) (model.Organization, error)
	UpdateOrganization(ctx context.Context, org model.Organization) error

	ListIdentities(ctx context.Context) ([]model.Identity, error)

	ListProjects(ctx context.Context) ([]model.Project, error)
	InsertProject(ctx context.Context, p model.Project) (string, error)
	UpdateProject(ctx context.Context, p model.Project) error
	DeleteProject(ctx context.Context, id string) error
	InsertTask(ctx context.Context, projectID string, t model.Task) (string, error)
	UpdateTask(ctx context.Context, t model.Task) error
	InsertFinancialItem(ctx context.Context, projectID string, f model.FinancialItem) (string, error)
	AddProjectMember(ctx context.Context, projectID, identityID string) error
	UpdateContract(ctx context.Context, projectID string, c model.Contract) error

	ListLeads(ctx context.Context) ([]model.Lead, error)
	InsertLead(ctx context.Context, l model.Lead) (string, error)
	UpdateLead(ctx context.Context, l model.Lead) error
	DeleteLead(ctx context.Context, id string) error

	ListNotifications(ctx context.Context, identityID string, limit int) ([]model.Notification, error)
	InsertNotification(ctx context.Context, identityID string, n model.Notification) (string, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, identityID string) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context, identityID string) error
}

type EventKind string

const EventInsert EventKind = "INSERT"

// Event is a realtime push frame delivered outside the request/response
// cycle.
type Event struct {
	Kind         EventKind          `json:"kind"`
	Notification model.Notification `json:"notification"`
}

type Handler func(Event)

// Realtime is the push subscription surface. The returned cancel func
// tears the channel down and is safe to call more than once.
type Realtime interface {
	Subscribe(ctx context.Context, channel string, h Handler) (func(), error)
}

// NotificationChannel names the per-identity notification stream.
func NotificationChannel(identityID string) string {
	return "notifications:user:" + identityID
}

// Backend is the full collaborator contract.
type Backend interface {
	Auth
	Data
	Realtime
}

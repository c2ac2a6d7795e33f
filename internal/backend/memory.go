package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shipcode/client/internal/model"
)

// Memory is a full in-process Backend used by tests and the offline demo.
// Hold/Release let a test keep remote calls pending so the optimistic
// mirror can be observed before confirmation, and FailNext forces a
// single operation to fail.
type Memory struct {
	mu sync.Mutex

	org           model.Organization
	orgSet        bool
	identities    []model.Identity
	creds         map[string]memCredential
	projects      []model.Project
	leads         []model.Lead
	notifications map[string][]model.Notification

	current       *Session
	invalidations int

	seq      int
	failures map[string]error
	gate     chan struct{}

	subs         map[int]*memSub
	subSeq       int
	subscribeLog []string
}

type memCredential struct {
	identityID string
	password   string
}

type memSub struct {
	channel string
	handler Handler
}

func NewMemory() *Memory {
	return &Memory{
		creds:         map[string]memCredential{},
		notifications: map[string][]model.Notification{},
		failures:      map[string]error{},
		subs:          map[int]*memSub{},
	}
}

// Hold blocks every subsequent backend call until Release is called.
func (m *Memory) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate == nil {
		m.gate = make(chan struct{})
	}
}

func (m *Memory) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// FailNext makes the next call to the named operation return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// SetSeq makes the next generated identifier use n as its number.
func (m *Memory) SetSeq(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = n - 1
}

func (m *Memory) InvalidationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidations
}

func (m *Memory) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// SubscribeLog returns channel names in subscription order.
func (m *Memory) SubscribeLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscribeLog...)
}

func (m *Memory) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	gate := m.gate
	err, forced := m.failures[op]
	if forced {
		delete(m.failures, op)
	}
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *Memory) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// --- Seeding ---

func (m *Memory) SeedOrganization(org model.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.org = org
	m.orgSet = true
}

func (m *Memory) SeedIdentity(ident model.Identity, email, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, ident)
	m.creds[email] = memCredential{identityID: ident.ID, password: password}
}

func (m *Memory) SeedProject(p model.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append([]model.Project{p.Clone()}, m.projects...)
}

func (m *Memory) SeedLead(l model.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads = append([]model.Lead{l}, m.leads...)
}

// --- Auth ---

func (m *Memory) Authenticate(ctx context.Context, email, password string) (Session, error) {
	if err := m.enter(ctx, "Authenticate"); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[email]
	if !ok || cred.password != password {
		return Session{}, &AuthError{Code: "invalid_credentials", Message: "email or password is incorrect"}
	}
	sess := Session{Token: m.nextID("tok"), IdentityID: cred.identityID, ExpiresAt: time.Now().Add(24 * time.Hour)}
	m.current = &sess
	return sess, nil
}

func (m *Memory) GetSession(ctx context.Context) (*Session, error) {
	if err := m.enter(ctx, "GetSession"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, nil
	}
	sess := *m.current
	return &sess, nil
}

func (m *Memory) InvalidateSession(ctx context.Context, s Session) error {
	if err := m.enter(ctx, "InvalidateSession"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
	if m.current != nil && m.current.Token == s.Token {
		m.current = nil
	}
	return nil
}

func (m *Memory) FetchProfile(ctx context.Context, identityID string) (model.Identity, error) {
	if err := m.enter(ctx, "FetchProfile"); err != nil {
		return model.Identity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if ident.ID == identityID {
			return ident, nil
		}
	}
	return model.Identity{}, ErrProfileNotFound
}

// --- Organization ---

func (m *Memory) Organization(ctx context.Context) (model.Organization, error) {
	if err := m.enter(ctx, "Organization"); err != nil {
		return model.Organization{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.orgSet {
		return model.Organization{}, ErrNotFound
	}
	return m.org, nil
}

func (m *Memory) UpdateOrganization(ctx context.Context, org model.Organization) error {
	if err := m.enter(ctx, "UpdateOrganization"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.org = org
	m.orgSet = true
	return nil
}

// --- Identities ---

func (m *Memory) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	if err := m.enter(ctx, "ListIdentities"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Identity(nil), m.identities...), nil
}

// --- Projects ---

func (m *Memory) ListProjects(ctx context.Context) ([]model.Project, error) {
	if err := m.enter(ctx, "ListProjects"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *Memory) InsertProject(ctx context.Context, p model.Project) (string, error) {
	if err := m.enter(ctx, "InsertProject"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID("p")
	p.Tasks = nil
	p.Financials = nil
	p.TeamIDs = nil
	p.CreatedAt = time.Now()
	m.projects = append([]model.Project{p.Clone()}, m.projects...)
	return p.ID, nil
}

func (m *Memory) UpdateProject(ctx context.Context, p model.Project) error {
	if err := m.enter(ctx, "UpdateProject"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == p.ID {
			existing := &m.projects[i]
			existing.Name = p.Name
			existing.ClientName = p.ClientName
			existing.Phase = p.Phase
			existing.Description = p.Description
			existing.TargetDate = p.TargetDate
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteProject(ctx context.Context, id string) error {
	if err := m.enter(ctx, "DeleteProject"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == id {
			m.projects = append(m.projects[:i], m.projects[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) InsertTask(ctx context.Context, projectID string, t model.Task) (string, error) {
	if err := m.enter(ctx, "InsertTask"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == projectID {
			t.ID = m.nextID("t")
			m.projects[i].Tasks = append(m.projects[i].Tasks, t)
			return t.ID, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) UpdateTask(ctx context.Context, t model.Task) error {
	if err := m.enter(ctx, "UpdateTask"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		for j := range m.projects[i].Tasks {
			if m.projects[i].Tasks[j].ID == t.ID {
				m.projects[i].Tasks[j] = t
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *Memory) InsertFinancialItem(ctx context.Context, projectID string, f model.FinancialItem) (string, error) {
	if err := m.enter(ctx, "InsertFinancialItem"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == projectID {
			f.ID = m.nextID("f")
			m.projects[i].Financials = append(m.projects[i].Financials, f)
			return f.ID, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) AddProjectMember(ctx context.Context, projectID, identityID string) error {
	if err := m.enter(ctx, "AddProjectMember"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == projectID {
			for _, existing := range m.projects[i].TeamIDs {
				if existing == identityID {
					return nil
				}
			}
			m.projects[i].TeamIDs = append(m.projects[i].TeamIDs, identityID)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) UpdateContract(ctx context.Context, projectID string, c model.Contract) error {
	if err := m.enter(ctx, "UpdateContract"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.projects {
		if m.projects[i].ID == projectID {
			if c.ID == "" || model.IsTempID(c.ID) {
				c.ID = m.nextID("c")
			}
			contract := c
			m.projects[i].Contract = &contract
			return nil
		}
	}
	return ErrNotFound
}

// --- Leads ---

func (m *Memory) ListLeads(ctx context.Context) ([]model.Lead, error) {
	if err := m.enter(ctx, "ListLeads"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Lead(nil), m.leads...), nil
}

func (m *Memory) InsertLead(ctx context.Context, l model.Lead) (string, error) {
	if err := m.enter(ctx, "InsertLead"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.nextID("l")
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.leads = append([]model.Lead{l}, m.leads...)
	return l.ID, nil
}

func (m *Memory) UpdateLead(ctx context.Context, l model.Lead) error {
	if err := m.enter(ctx, "UpdateLead"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID == l.ID {
			m.leads[i] = l
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteLead(ctx context.Context, id string) error {
	if err := m.enter(ctx, "DeleteLead"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.leads {
		if m.leads[i].ID == id {
			m.leads = append(m.leads[:i], m.leads[i+1:]...)
			return nil
		}
	}
	return nil
}

// --- Notifications ---

func (m *Memory) ListNotifications(ctx context.Context, identityID string, limit int) ([]model.Notification, error) {
	if err := m.enter(ctx, "ListNotifications"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.notifications[identityID]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]model.Notification, 0, len(items))
	for _, n := range items {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (m *Memory) InsertNotification(ctx context.Context, identityID string, n model.Notification) (string, error) {
	if err := m.enter(ctx, "InsertNotification"); err != nil {
		return "", err
	}
	m.mu.Lock()
	n.ID = m.nextID("n")
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notifications[identityID] = append([]model.Notification{n.Clone()}, m.notifications[identityID]...)
	m.mu.Unlock()

	m.publish(NotificationChannel(identityID), Event{Kind: EventInsert, Notification: n})
	return n.ID, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, id string) error {
	if err := m.enter(ctx, "MarkNotificationRead"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for owner := range m.notifications {
		for i := range m.notifications[owner] {
			if m.notifications[owner][i].ID == id {
				m.notifications[owner][i].Read = true
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *Memory) MarkAllNotificationsRead(ctx context.Context, identityID string) error {
	if err := m.enter(ctx, "MarkAllNotificationsRead"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications[identityID] {
		m.notifications[identityID][i].Read = true
	}
	return nil
}

func (m *Memory) DeleteNotification(ctx context.Context, id string) error {
	if err := m.enter(ctx, "DeleteNotification"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for owner := range m.notifications {
		items := m.notifications[owner]
		for i := range items {
			if items[i].ID == id {
				m.notifications[owner] = append(items[:i], items[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (m *Memory) ClearNotifications(ctx context.Context, identityID string) error {
	if err := m.enter(ctx, "ClearNotifications"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notifications, identityID)
	return nil
}

// --- Realtime ---

func (m *Memory) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	if err := m.enter(ctx, "Subscribe"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = &memSub{channel: channel, handler: h}
	m.subscribeLog = append(m.subscribeLog, channel)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}, nil
}

// PublishNotification simulates a server-initiated push frame.
func (m *Memory) PublishNotification(identityID string, n model.Notification) {
	m.publish(NotificationChannel(identityID), Event{Kind: EventInsert, Notification: n})
}

func (m *Memory) publish(channel string, ev Event) {
	m.mu.Lock()
	var handlers []Handler
	for _, sub := range m.subs {
		if sub.channel == channel {
			handlers = append(handlers, sub.handler)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

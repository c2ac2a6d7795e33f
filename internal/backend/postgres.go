package backend

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shipcode/client/internal/model"
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres is the durable backend adapter: entity CRUD and credential
// auth in Postgres, session tokens in Redis, realtime pushes over the
// broker. It implements Backend.
type Postgres struct {
	db       *sql.DB
	sessions *RedisSessions
	broker   *RedisBroker
	tokens   *TokenCache
}

func NewPostgres(db *sql.DB, sessions *RedisSessions, broker *RedisBroker, tokens *TokenCache) *Postgres {
	return &Postgres{db: db, sessions: sessions, broker: broker, tokens: tokens}
}

func newToken() string {
	bytes := make([]byte, 24)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// --- Auth ---

func (p *Postgres) Authenticate(ctx context.Context, email, password string) (Session, error) {
	var identityID, passwordHash string
	err := p.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM profiles WHERE email = $1`, email,
	).Scan(&identityID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, &AuthError{Code: "invalid_credentials", Message: "email or password is incorrect"}
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return Session{}, &AuthError{Code: "invalid_credentials", Message: "email or password is incorrect"}
	}

	sess := Session{Token: newToken(), IdentityID: identityID}
	if err := p.sessions.Save(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	if err := p.tokens.Store(sess.Token); err != nil {
		return Session{}, fmt.Errorf("cache session token: %w", err)
	}
	return sess, nil
}

func (p *Postgres) GetSession(ctx context.Context) (*Session, error) {
	token, err := p.tokens.Load()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	sess, err := p.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		// Token refers to a revoked or expired backend session.
		_ = p.tokens.Clear()
		return nil, nil
	}
	return sess, nil
}

func (p *Postgres) InvalidateSession(ctx context.Context, s Session) error {
	if err := p.sessions.Revoke(ctx, s.Token); err != nil {
		return err
	}
	return p.tokens.Clear()
}

func (p *Postgres) FetchProfile(ctx context.Context, identityID string) (model.Identity, error) {
	var ident model.Identity
	var role string
	var avatar, email sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, role, avatar_url, email FROM profiles WHERE id = $1`, identityID,
	).Scan(&ident.ID, &ident.DisplayName, &role, &avatar, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, ErrProfileNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("fetch profile: %w", err)
	}
	ident.Role = model.NormalizeRole(role)
	ident.AvatarRef = avatar.String
	ident.Email = email.String
	return ident, nil
}

// --- Organization ---

func (p *Postgres) Organization(ctx context.Context) (model.Organization, error) {
	var org model.Organization
	var settings []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, brand_color, settings FROM organizations LIMIT 1`,
	).Scan(&org.ID, &org.Name, &org.BrandColor, &settings)
	if err != nil {
		return model.Organization{}, fmt.Errorf("fetch organization: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return model.Organization{}, fmt.Errorf("decode org settings: %w", err)
		}
	}
	return org, nil
}

func (p *Postgres) UpdateOrganization(ctx context.Context, org model.Organization) error {
	settings, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("encode org settings: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`UPDATE organizations SET name = $2, brand_color = $3, settings = $4 WHERE id = $1`,
		org.ID, org.Name, org.BrandColor, settings)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// --- Identities ---

func (p *Postgres) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, role, avatar_url, email FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		var ident model.Identity
		var role string
		var avatar, email sql.NullString
		if err := rows.Scan(&ident.ID, &ident.DisplayName, &role, &avatar, &email); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.Role = model.NormalizeRole(role)
		ident.AvatarRef = avatar.String
		ident.Email = email.String
		out = append(out, ident)
	}
	return out, rows.Err()
}

// --- Projects ---

func (p *Postgres) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, client_name, phase, lead_id, description, start_date, target_date, created_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	index := map[string]int{}
	for rows.Next() {
		var pr model.Project
		var leadID, description sql.NullString
		var startDate, targetDate sql.NullTime
		var phase string
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.ClientName, &phase, &leadID, &description, &startDate, &targetDate, &pr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		pr.Phase = model.ProjectPhase(phase)
		pr.LeadID = leadID.String
		pr.Description = description.String
		if startDate.Valid {
			t := startDate.Time
			pr.StartDate = &t
		}
		if targetDate.Valid {
			t := targetDate.Time
			pr.TargetDate = &t
		}
		index[pr.ID] = len(projects)
		projects = append(projects, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := p.attachTasks(ctx, projects, index); err != nil {
		return nil, err
	}
	if err := p.attachFinancials(ctx, projects, index); err != nil {
		return nil, err
	}
	if err := p.attachContracts(ctx, projects, index); err != nil {
		return nil, err
	}
	if err := p.attachMembers(ctx, projects, index); err != nil {
		return nil, err
	}
	return projects, nil
}

func (p *Postgres) attachTasks(ctx context.Context, projects []model.Project, index map[string]int) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, title, status, assignee_id, description, priority, due_date
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Task
		var projectID string
		var assignee, description, priority sql.NullString
		var due sql.NullTime
		var status string
		if err := rows.Scan(&t.ID, &projectID, &t.Title, &status, &assignee, &description, &priority, &due); err != nil {
			return fmt.Errorf("scan task: %w", err)
		}
		t.Status = model.TaskStatus(status)
		t.AssigneeID = assignee.String
		t.Description = description.String
		t.Priority = model.TaskPriority(priority.String)
		if due.Valid {
			d := due.Time
			t.DueDate = &d
		}
		if i, ok := index[projectID]; ok {
			projects[i].Tasks = append(projects[i].Tasks, t)
		}
	}
	return rows.Err()
}

func (p *Postgres) attachFinancials(ctx context.Context, projects []model.Project, index map[string]int) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, description, amount, type, category FROM financial_items`)
	if err != nil {
		return fmt.Errorf("list financial items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f model.FinancialItem
		var projectID, amount, kind, category string
		if err := rows.Scan(&f.ID, &projectID, &f.Description, &amount, &kind, &category); err != nil {
			return fmt.Errorf("scan financial item: %w", err)
		}
		f.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parse amount %q: %w", amount, err)
		}
		f.Type = model.FinancialType(kind)
		f.Category = model.FinancialCategory(category)
		if i, ok := index[projectID]; ok {
			projects[i].Financials = append(projects[i].Financials, f)
		}
	}
	return rows.Err()
}

func (p *Postgres) attachContracts(ctx context.Context, projects []model.Project, index map[string]int) error {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, status, content, total_value, signed_at FROM contracts`)
	if err != nil {
		return fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Contract
		var projectID, status, total string
		var signedAt sql.NullTime
		if err := rows.Scan(&c.ID, &projectID, &status, &c.Content, &total, &signedAt); err != nil {
			return fmt.Errorf("scan contract: %w", err)
		}
		c.Status = model.ContractStatus(status)
		var err error
		c.TotalValue, err = decimal.NewFromString(total)
		if err != nil {
			return fmt.Errorf("parse contract value %q: %w", total, err)
		}
		if signedAt.Valid {
			t := signedAt.Time
			c.SignedAt = &t
		}
		if i, ok := index[projectID]; ok {
			contract := c
			projects[i].Contract = &contract
		}
	}
	return rows.Err()
}

func (p *Postgres) attachMembers(ctx context.Context, projects []model.Project, index map[string]int) error {
	rows, err := p.db.QueryContext(ctx, `SELECT project_id, user_id FROM project_members`)
	if err != nil {
		return fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var projectID, userID string
		if err := rows.Scan(&projectID, &userID); err != nil {
			return fmt.Errorf("scan project member: %w", err)
		}
		if i, ok := index[projectID]; ok {
			projects[i].TeamIDs = append(projects[i].TeamIDs, userID)
		}
	}
	return rows.Err()
}

func (p *Postgres) InsertProject(ctx context.Context, pr model.Project) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, client_name, phase, lead_id, description, start_date)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
		RETURNING id`,
		pr.Name, pr.ClientName, string(pr.Phase), pr.LeadID, pr.Description,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateProject(ctx context.Context, pr model.Project) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE projects SET name = $2, client_name = $3, phase = $4, description = $5, target_date = $6
		WHERE id = $1`,
		pr.ID, pr.Name, pr.ClientName, string(pr.Phase), pr.Description, pr.TargetDate)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteProject(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (p *Postgres) InsertTask(ctx context.Context, projectID string, t model.Task) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO tasks (project_id, title, status, assignee_id, description, priority, due_date)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
		RETURNING id`,
		projectID, t.Title, string(t.Status), t.AssigneeID, t.Description, string(t.Priority), t.DueDate,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateTask(ctx context.Context, t model.Task) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET title = $2, status = $3, assignee_id = NULLIF($4, ''), description = $5, priority = NULLIF($6, ''), due_date = $7
		WHERE id = $1`,
		t.ID, t.Title, string(t.Status), t.AssigneeID, t.Description, string(t.Priority), t.DueDate)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (p *Postgres) InsertFinancialItem(ctx context.Context, projectID string, f model.FinancialItem) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO financial_items (project_id, description, amount, type, category)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		projectID, f.Description, f.Amount.String(), string(f.Type), string(f.Category),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert financial item: %w", err)
	}
	return id, nil
}

func (p *Postgres) AddProjectMember(ctx context.Context, projectID, identityID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		projectID, identityID)
	if err != nil {
		return fmt.Errorf("add project member: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateContract(ctx context.Context, projectID string, c model.Contract) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO contracts (project_id, status, content, total_value, signed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id)
		DO UPDATE SET status = EXCLUDED.status, content = EXCLUDED.content,
			total_value = EXCLUDED.total_value, signed_at = EXCLUDED.signed_at`,
		projectID, string(c.Status), c.Content, c.TotalValue.String(), c.SignedAt)
	if err != nil {
		return fmt.Errorf("upsert contract: %w", err)
	}
	return nil
}

// --- Leads ---

func (p *Postgres) ListLeads(ctx context.Context) ([]model.Lead, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, client_name, project_name, budget, probability, status, source, notes, created_at
		FROM leads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []model.Lead
	for rows.Next() {
		var l model.Lead
		var budget, status, source string
		var notes sql.NullString
		if err := rows.Scan(&l.ID, &l.ClientName, &l.ProjectName, &budget, &l.Probability, &status, &source, &notes, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		l.Budget, err = decimal.NewFromString(budget)
		if err != nil {
			return nil, fmt.Errorf("parse budget %q: %w", budget, err)
		}
		l.Status = model.LeadStatus(status)
		l.Source = model.LeadSource(source)
		l.Notes = notes.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertLead(ctx context.Context, l model.Lead) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO leads (client_name, project_name, budget, probability, status, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id`,
		l.ClientName, l.ProjectName, l.Budget.String(), l.Probability, string(l.Status), string(l.Source), l.Notes,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert lead: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateLead(ctx context.Context, l model.Lead) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE leads SET client_name = $2, project_name = $3, budget = $4, probability = $5, status = $6, notes = NULLIF($7, '')
		WHERE id = $1`,
		l.ID, l.ClientName, l.ProjectName, l.Budget.String(), l.Probability, string(l.Status), l.Notes)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteLead(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	return nil
}

// --- Notifications ---

func (p *Postgres) ListNotifications(ctx context.Context, identityID string, limit int) ([]model.Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, type, title, message, is_read, created_at, action
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var kind string
		var action []byte
		if err := rows.Scan(&n.ID, &kind, &n.Title, &n.Message, &n.Read, &n.CreatedAt, &action); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(kind)
		if len(action) > 0 {
			var a model.NotificationAction
			if err := json.Unmarshal(action, &a); err == nil && a.Href != "" {
				n.Action = &a
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertNotification(ctx context.Context, identityID string, n model.Notification) (string, error) {
	var action []byte
	if n.Action != nil {
		var err error
		action, err = json.Marshal(n.Action)
		if err != nil {
			return "", fmt.Errorf("encode notification action: %w", err)
		}
	}

	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, type, title, message, is_read, action)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		identityID, string(n.Type), n.Title, n.Message, n.Read, action,
	).Scan(&id, &n.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}

	if p.broker != nil {
		n.ID = id
		if err := p.broker.Publish(ctx, NotificationChannel(identityID), Event{Kind: EventInsert, Notification: n}); err != nil {
			// Delivery is best effort; the row is durable either way.
			return id, nil
		}
	}
	return id, nil
}

func (p *Postgres) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (p *Postgres) MarkAllNotificationsRead(ctx context.Context, identityID string) error {
	if _, err := p.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`, identityID); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteNotification(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

func (p *Postgres) ClearNotifications(ctx context.Context, identityID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, identityID); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	return nil
}

// Subscribe delegates realtime delivery to the broker.
func (p *Postgres) Subscribe(ctx context.Context, channel string, h Handler) (func(), error) {
	if p.broker == nil {
		return nil, errors.New("realtime broker not configured")
	}
	return p.broker.Subscribe(ctx, channel, h)
}

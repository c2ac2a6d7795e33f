// Package store holds the in-memory mirror of remote entities and applies
// user mutations optimistically before the remote write is confirmed.
//
// Every mutation follows the same discipline: permission check, synchronous
// apply to the mirror, then an asynchronous remote write. Create paths
// reconcile by refetching the whole mirror so temporary identifiers are
// replaced consistently across nested entities in one pass. Failed writes
// are logged and the optimistic state retained: the mutation is
// at-least-once-visible, not exactly-once-persisted.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
	"shipcode/client/internal/rbac"
)

var (
	// ErrPermission means the current identity's capability set vetoes
	// the mutation.
	ErrPermission = errors.New("permission denied")
	// ErrUnknownEntity means the target is not in the mirror.
	ErrUnknownEntity = errors.New("entity not in mirror")
	// ErrPhaseRegression means a project phase would move backwards
	// without the administrative override capability.
	ErrPhaseRegression = errors.New("project phase cannot move backwards")
	// ErrUnknownPhase means the phase is not part of the pipeline.
	ErrUnknownPhase = errors.New("unknown project phase")
	// ErrContractSigned means a signed contract would be modified.
	ErrContractSigned = errors.New("contract is signed and immutable")
	// ErrNoContract means the project has no contract to sign.
	ErrNoContract = errors.New("project has no contract")
	// ErrLeadNotPending means a review was attempted on a lead that is
	// not in the NEW state.
	ErrLeadNotPending = errors.New("lead is not pending review")
	// ErrLeadNotQualified means a conversion was attempted on a lead
	// that has not been qualified.
	ErrLeadNotQualified = errors.New("lead is not qualified")
	// ErrLeadReopened means a lead would be moved back to NEW.
	ErrLeadReopened = errors.New("lead cannot return to NEW")
)

// CapabilityFunc resolves the current identity's capabilities. It is
// called on every mutation so a mid-session role change takes effect
// immediately.
type CapabilityFunc func() rbac.Capabilities

// OrganizationPatch is a merge-patch over the organization singleton.
type OrganizationPatch struct {
	Name       *string
	BrandColor *string
	Settings   *model.OrgSettings
}

// Store is the entity data store. The mirror is mutated only through its
// methods; the realtime merge path and the mutation path share the same
// replace-by-identifier rule, so merges are idempotent and commutative.
type Store struct {
	data backend.Data
	caps CapabilityFunc
	log  *slog.Logger

	mu        sync.Mutex
	gen       int
	org       model.Organization
	orgLoaded bool
	projects  []model.Project
	leads     []model.Lead
	team      []model.Identity
	loadErr   error

	inflight sync.WaitGroup
}

func New(data backend.Data, caps CapabilityFunc, log *slog.Logger) *Store {
	if caps == nil {
		caps = func() rbac.Capabilities { return rbac.Capabilities{} }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{data: data, caps: caps, log: log}
}

// Load replaces the mirror wholesale with what the backend returns. On
// any error the mirror fails closed to empty and the error is retained
// as the loading-error state.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	return s.refetch(ctx, gen)
}

// Reset clears the mirror and invalidates every in-flight reconciliation.
// Called on sign-out.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.org = model.Organization{}
	s.orgLoaded = false
	s.projects = nil
	s.leads = nil
	s.team = nil
	s.loadErr = nil
}

// Flush waits for all in-flight remote writes and reconciliations.
func (s *Store) Flush() {
	s.inflight.Wait()
}

// LoadErr reports the last load failure, nil when the mirror is healthy.
func (s *Store) LoadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// refetch fetches everything and applies it only if the generation it
// started from is still current, so a reconciliation that outlives a
// Reset is dropped instead of resurrecting a cleared mirror.
func (s *Store) refetch(ctx context.Context, gen int) error {
	org, err := s.data.Organization(ctx)
	if err != nil {
		return s.failLoad(gen, err)
	}
	team, err := s.data.ListIdentities(ctx)
	if err != nil {
		return s.failLoad(gen, err)
	}
	leads, err := s.data.ListLeads(ctx)
	if err != nil {
		return s.failLoad(gen, err)
	}
	projects, err := s.data.ListProjects(ctx)
	if err != nil {
		return s.failLoad(gen, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.org = org
	s.orgLoaded = true
	s.team = team
	s.leads = leads
	s.projects = projects
	s.loadErr = nil
	return nil
}

func (s *Store) failLoad(gen int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.org = model.Organization{}
	s.orgLoaded = false
	s.team = nil
	s.leads = nil
	s.projects = nil
	s.loadErr = err
	s.log.Warn("mirror load failed, failing closed", "error", err)
	return err
}

// --- Accessors (snapshots, never aliases into the mirror) ---

func (s *Store) Organization() (model.Organization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.org, s.orgLoaded
}

func (s *Store) Projects() []model.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	return out
}

func (s *Store) Project(id string) (model.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return model.Project{}, false
}

func (s *Store) Leads() []model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Lead(nil), s.leads...)
}

func (s *Store) Lead(id string) (model.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id {
			return l, true
		}
	}
	return model.Lead{}, false
}

func (s *Store) Team() []model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Identity(nil), s.team...)
}

// --- Organization ---

// UpdateOrganization merge-patches the singleton, locally first.
func (s *Store) UpdateOrganization(patch OrganizationPatch) error {
	if !s.caps().CanEditSettings {
		return ErrPermission
	}

	s.mu.Lock()
	if !s.orgLoaded {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	if patch.Name != nil {
		s.org.Name = *patch.Name
	}
	if patch.BrandColor != nil {
		s.org.BrandColor = *patch.BrandColor
	}
	if patch.Settings != nil {
		s.org.Settings = *patch.Settings
	}
	org := s.org
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.data.UpdateOrganization(context.Background(), org); err != nil {
			s.log.Warn("organization update not persisted", "error", err)
		}
	}()
	return nil
}

// --- Projects ---

// CreateProject inserts the draft into the mirror under a temporary
// identifier and returns it immediately; the remote insert and the
// reconciling refetch happen asynchronously.
func (s *Store) CreateProject(draft model.Project) (model.Project, error) {
	if !s.caps().CanCreateProject {
		return model.Project{}, ErrPermission
	}

	p := draft.Clone()
	if !model.IsTempID(p.ID) {
		p.ID = model.NewTempID()
	}
	if p.Phase.Ordinal() < 0 {
		p.Phase = model.PhaseDiscovery
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	for i := range p.Tasks {
		if p.Tasks[i].ID == "" {
			p.Tasks[i].ID = model.NewTempID()
		}
	}
	for i := range p.Financials {
		if p.Financials[i].ID == "" {
			p.Financials[i].ID = model.NewTempID()
		}
	}

	s.mu.Lock()
	gen := s.gen
	s.projects = append([]model.Project{p.Clone()}, s.projects...)
	s.mu.Unlock()

	s.inflight.Add(1)
	go s.persistProjectCreate(gen, p)
	return p, nil
}

func (s *Store) persistProjectCreate(gen int, p model.Project) {
	defer s.inflight.Done()
	ctx := context.Background()

	id, err := s.data.InsertProject(ctx, p)
	if err != nil {
		// The optimistic entry stays visible; no automatic retry.
		s.log.Warn("project create not persisted", "tempID", p.ID, "error", err)
		return
	}
	for _, t := range p.Tasks {
		if _, err := s.data.InsertTask(ctx, id, t); err != nil {
			s.log.Warn("project task not persisted", "projectID", id, "error", err)
		}
	}
	for _, f := range p.Financials {
		if _, err := s.data.InsertFinancialItem(ctx, id, f); err != nil {
			s.log.Warn("project financial item not persisted", "projectID", id, "error", err)
		}
	}
	for _, member := range p.TeamIDs {
		if err := s.data.AddProjectMember(ctx, id, member); err != nil {
			s.log.Warn("project member not persisted", "projectID", id, "error", err)
		}
	}
	if p.Contract != nil {
		if err := s.data.UpdateContract(ctx, id, *p.Contract); err != nil {
			s.log.Warn("project contract not persisted", "projectID", id, "error", err)
		}
	}

	// Full refetch replaces the temporary identifiers of the project and
	// all nested entities in one pass.
	if err := s.refetch(ctx, gen); err != nil {
		s.log.Warn("reconciling refetch after create failed", "error", err)
	}
}

// UpdateProject replaces the mirror entry (last writer wins locally) and
// patches the backend. Nested tasks are inserted or patched remotely
// keyed purely on whether their identifier has the temporary shape.
func (s *Store) UpdateProject(updated model.Project) error {
	if !s.caps().CanEditProject {
		return ErrPermission
	}
	if updated.Phase.Ordinal() < 0 {
		return ErrUnknownPhase
	}

	s.mu.Lock()
	idx := -1
	for i := range s.projects {
		if s.projects[i].ID == updated.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	prev := s.projects[idx].Clone()
	if updated.Phase.Ordinal() < prev.Phase.Ordinal() && !s.caps().CanDeleteProject {
		s.mu.Unlock()
		return ErrPhaseRegression
	}
	if prev.Contract != nil && prev.Contract.Status == model.ContractSigned && !contractsEqual(prev.Contract, updated.Contract) {
		s.mu.Unlock()
		return ErrContractSigned
	}

	next := updated.Clone()
	next.CreatedAt = prev.CreatedAt
	for i := range next.Tasks {
		if next.Tasks[i].ID == "" {
			next.Tasks[i].ID = model.NewTempID()
		}
	}
	gen := s.gen
	s.projects[idx] = next.Clone()
	s.mu.Unlock()

	s.inflight.Add(1)
	go s.persistProjectUpdate(gen, prev, next)
	return nil
}

func (s *Store) persistProjectUpdate(gen int, prev, next model.Project) {
	defer s.inflight.Done()
	ctx := context.Background()

	if err := s.data.UpdateProject(ctx, next); err != nil {
		s.log.Warn("project update not persisted", "id", next.ID, "error", err)
		return
	}

	insertedTemp := false
	for _, t := range next.Tasks {
		if model.IsTempID(t.ID) {
			if _, err := s.data.InsertTask(ctx, next.ID, t); err != nil {
				s.log.Warn("task insert not persisted", "projectID", next.ID, "error", err)
				continue
			}
			insertedTemp = true
		} else if err := s.data.UpdateTask(ctx, t); err != nil {
			s.log.Warn("task update not persisted", "taskID", t.ID, "error", err)
		}
	}
	for _, f := range next.Financials {
		if model.IsTempID(f.ID) {
			if _, err := s.data.InsertFinancialItem(ctx, next.ID, f); err != nil {
				s.log.Warn("financial item not persisted", "projectID", next.ID, "error", err)
				continue
			}
			insertedTemp = true
		}
	}
	known := map[string]bool{}
	for _, id := range prev.TeamIDs {
		known[id] = true
	}
	for _, id := range next.TeamIDs {
		if !known[id] {
			if err := s.data.AddProjectMember(ctx, next.ID, id); err != nil {
				s.log.Warn("project member not persisted", "projectID", next.ID, "error", err)
			}
		}
	}

	if insertedTemp {
		if err := s.refetch(ctx, gen); err != nil {
			s.log.Warn("reconciling refetch after update failed", "error", err)
		}
	}
}

// DeleteProject removes the entry and issues a fire-and-forget remote
// delete. A failed delete is logged, never rolled back; the next load
// converges the mirror.
func (s *Store) DeleteProject(id string) error {
	if !s.caps().CanDeleteProject {
		return ErrPermission
	}

	s.mu.Lock()
	for i := range s.projects {
		if s.projects[i].ID == id {
			s.projects = append(s.projects[:i], s.projects[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.data.DeleteProject(context.Background(), id); err != nil {
			s.log.Warn("project delete not persisted", "id", id, "error", err)
		}
	}()
	return nil
}

// SignContract marks the project's contract as signed. Signing is
// monotonic; a signed contract never changes again.
func (s *Store) SignContract(projectID string) error {
	if !s.caps().CanSignContracts {
		return ErrPermission
	}

	s.mu.Lock()
	idx := -1
	for i := range s.projects {
		if s.projects[i].ID == projectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	if s.projects[idx].Contract == nil {
		s.mu.Unlock()
		return ErrNoContract
	}
	if s.projects[idx].Contract.Status == model.ContractSigned {
		s.mu.Unlock()
		return ErrContractSigned
	}
	now := time.Now()
	s.projects[idx].Contract.Status = model.ContractSigned
	s.projects[idx].Contract.SignedAt = &now
	contract := *s.projects[idx].Contract
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.data.UpdateContract(context.Background(), projectID, contract); err != nil {
			s.log.Warn("contract signature not persisted", "projectID", projectID, "error", err)
		}
	}()
	return nil
}

// --- Leads ---

// CreateLead inserts the draft optimistically under a temporary
// identifier. Campaign defaults: unreviewed drafts enter as CONTACTED
// when created manually.
func (s *Store) CreateLead(draft model.Lead) (model.Lead, error) {
	if !s.caps().CanManageLeads {
		return model.Lead{}, ErrPermission
	}

	l := draft
	if !model.IsTempID(l.ID) {
		l.ID = model.NewTempID()
	}
	if l.Status == "" {
		l.Status = model.LeadContacted
	}
	if l.Source == "" {
		l.Source = model.SourceManual
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	s.mu.Lock()
	gen := s.gen
	s.leads = append([]model.Lead{l}, s.leads...)
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx := context.Background()
		if _, err := s.data.InsertLead(ctx, l); err != nil {
			s.log.Warn("lead create not persisted", "tempID", l.ID, "error", err)
			return
		}
		if err := s.refetch(ctx, gen); err != nil {
			s.log.Warn("reconciling refetch after lead create failed", "error", err)
		}
	}()
	return l, nil
}

// UpdateLead replaces the mirror entry and patches the backend. A lead
// that has left NEW can never return to it.
func (s *Store) UpdateLead(updated model.Lead) error {
	if !s.caps().CanManageLeads {
		return ErrPermission
	}

	s.mu.Lock()
	idx := -1
	for i := range s.leads {
		if s.leads[i].ID == updated.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	if updated.Status == model.LeadNew && s.leads[idx].Status != model.LeadNew {
		s.mu.Unlock()
		return ErrLeadReopened
	}
	s.leads[idx] = updated
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.data.UpdateLead(context.Background(), updated); err != nil {
			s.log.Warn("lead update not persisted", "id", updated.ID, "error", err)
		}
	}()
	return nil
}

// ReviewLead resolves a NEW inbound lead: approved leads become
// QUALIFIED, rejected ones LOST.
func (s *Store) ReviewLead(id string, approve bool) error {
	s.mu.Lock()
	idx := -1
	for i := range s.leads {
		if s.leads[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	if s.leads[idx].Status != model.LeadNew {
		s.mu.Unlock()
		return ErrLeadNotPending
	}
	l := s.leads[idx]
	s.mu.Unlock()

	if approve {
		l.Status = model.LeadQualified
	} else {
		l.Status = model.LeadLost
	}
	return s.UpdateLead(l)
}

// ConvertLead marks a qualified lead CONVERTED and drafts a project from
// it, carrying the budget over as a revenue item.
func (s *Store) ConvertLead(id string) (model.Project, error) {
	if !s.caps().CanManageLeads || !s.caps().CanCreateProject {
		return model.Project{}, ErrPermission
	}

	s.mu.Lock()
	idx := -1
	for i := range s.leads {
		if s.leads[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return model.Project{}, ErrUnknownEntity
	}
	if s.leads[idx].Status != model.LeadQualified {
		s.mu.Unlock()
		return model.Project{}, ErrLeadNotQualified
	}
	lead := s.leads[idx]
	s.mu.Unlock()

	lead.Status = model.LeadConverted
	if err := s.UpdateLead(lead); err != nil {
		return model.Project{}, err
	}

	return s.CreateProject(model.Project{
		Name:        lead.ProjectName,
		ClientName:  lead.ClientName,
		Phase:       model.PhaseDiscovery,
		LeadID:      lead.ID,
		Description: lead.Notes,
		Financials: []model.FinancialItem{{
			Description: "Contract value",
			Amount:      lead.Budget,
			Type:        model.FinancialRevenue,
			Category:    model.CategoryFixedFee,
		}},
	})
}

// DeleteLead removes the entry and issues a fire-and-forget remote
// delete, same policy as projects.
func (s *Store) DeleteLead(id string) error {
	if !s.caps().CanManageLeads {
		return ErrPermission
	}

	s.mu.Lock()
	for i := range s.leads {
		if s.leads[i].ID == id {
			s.leads = append(s.leads[:i], s.leads[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.data.DeleteLead(context.Background(), id); err != nil {
			s.log.Warn("lead delete not persisted", "id", id, "error", err)
		}
	}()
	return nil
}

// --- Realtime merges ---

// MergeProject applies an inbound entity by identifier: replace when
// present, prepend when new. Replaying an echo of a local write replaces
// the entry with itself.
func (s *Store) MergeProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.projects {
		if s.projects[i].ID == p.ID {
			s.projects[i] = p.Clone()
			return
		}
	}
	s.projects = append([]model.Project{p.Clone()}, s.projects...)
}

// MergeLead applies an inbound lead under the same rule as MergeProject.
func (s *Store) MergeLead(l model.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leads {
		if s.leads[i].ID == l.ID {
			s.leads[i] = l
			return
		}
	}
	s.leads = append([]model.Lead{l}, s.leads...)
}

func contractsEqual(a, b *model.Contract) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != b.ID || a.Status != b.Status || a.Content != b.Content {
		return false
	}
	if !a.TotalValue.Equal(b.TotalValue) {
		return false
	}
	switch {
	case a.SignedAt == nil && b.SignedAt == nil:
		return true
	case a.SignedAt == nil || b.SignedAt == nil:
		return false
	default:
		return a.SignedAt.Equal(*b.SignedAt)
	}
}

// Package model defines the entities mirrored by the client data layer.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleManager     Role = "MANAGER"
	RoleContributor Role = "CONTRIBUTOR"
	RoleClient      Role = "CLIENT"
)

// NormalizeRole maps untrusted role strings to a known role, defaulting to
// the least privileged one.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleManager, RoleContributor, RoleClient:
		return Role(role)
	default:
		return RoleClient
	}
}

type ProjectPhase string

const (
	PhaseLead        ProjectPhase = "LEAD"
	PhaseDiscovery   ProjectPhase = "DISCOVERY"
	PhaseContracting ProjectPhase = "CONTRACTING"
	PhaseBuild       ProjectPhase = "BUILD"
	PhaseQA          ProjectPhase = "QA"
	PhaseDeployed    ProjectPhase = "DEPLOYED"
)

// Ordinal returns the position of the phase in the delivery pipeline,
// or -1 for an unknown phase.
func (p ProjectPhase) Ordinal() int {
	switch p {
	case PhaseLead:
		return 0
	case PhaseDiscovery:
		return 1
	case PhaseContracting:
		return 2
	case PhaseBuild:
		return 3
	case PhaseQA:
		return 4
	case PhaseDeployed:
		return 5
	default:
		return -1
	}
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskReview     TaskStatus = "REVIEW"
	TaskDone       TaskStatus = "DONE"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

type FinancialType string

const (
	FinancialRevenue FinancialType = "REVENUE"
	FinancialCost    FinancialType = "COST"
)

type FinancialCategory string

const (
	CategoryLabor    FinancialCategory = "LABOR"
	CategoryInfra    FinancialCategory = "INFRA"
	CategoryTool     FinancialCategory = "TOOL"
	CategoryFixedFee FinancialCategory = "FIXED_FEE"
)

type ContractStatus string

const (
	ContractDraft  ContractStatus = "DRAFT"
	ContractSent   ContractStatus = "SENT"
	ContractSigned ContractStatus = "SIGNED"
)

type LeadStatus string

const (
	LeadNew       LeadStatus = "NEW"
	LeadContacted LeadStatus = "CONTACTED"
	LeadQualified LeadStatus = "QUALIFIED"
	LeadConverted LeadStatus = "CONVERTED"
	LeadLost      LeadStatus = "LOST"
)

type LeadSource string

const (
	SourceManual           LeadSource = "MANUAL"
	SourceCampaignLinkedIn LeadSource = "CAMPAIGN_LINKEDIN"
	SourceCampaignAds      LeadSource = "CAMPAIGN_ADS"
	SourceReferral         LeadSource = "REFERRAL"
	SourceWebsite          LeadSource = "WEBSITE"
)

type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

// Identity is a signed-in user profile.
type Identity struct {
	ID          string
	DisplayName string
	Role        Role
	AvatarRef   string
	Email       string
}

type OrgSettings struct {
	TaxRate  float64 `json:"taxRate"`
	Currency string  `json:"currency"`
}

// Organization is a singleton per session.
type Organization struct {
	ID         string
	Name       string
	BrandColor string
	Settings   OrgSettings
}

type Task struct {
	ID          string
	Title       string
	Status      TaskStatus
	AssigneeID  string
	Description string
	Priority    TaskPriority
	DueDate     *time.Time
}

type FinancialItem struct {
	ID          string
	Description string
	Amount      decimal.Decimal
	Type        FinancialType
	Category    FinancialCategory
}

type Contract struct {
	ID         string
	Status     ContractStatus
	Content    string
	TotalValue decimal.Decimal
	SignedAt   *time.Time
}

type Project struct {
	ID          string
	Name        string
	ClientName  string
	Phase       ProjectPhase
	LeadID      string
	Description string
	StartDate   *time.Time
	TargetDate  *time.Time
	Contract    *Contract
	Financials  []FinancialItem
	Tasks       []Task
	TeamIDs     []string
	CreatedAt   time.Time
}

type Lead struct {
	ID          string
	ClientName  string
	ProjectName string
	Budget      decimal.Decimal
	Probability int
	Status      LeadStatus
	Source      LeadSource
	Notes       string
	CreatedAt   time.Time
}

type NotificationAction struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type Notification struct {
	ID        string
	Type      NotificationType
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
	Action    *NotificationAction
}

const tempIDPrefix = "tmp-"

// NewTempID generates a client-side identifier for an entity that has not
// been confirmed by the backend yet. The prefix is what distinguishes it
// from authoritative identifiers; nested-mutation routing keys on it.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Revenue sums the project's revenue items.
func (p Project) Revenue() decimal.Decimal {
	return p.sumFinancials(FinancialRevenue)
}

// Cost sums the project's cost items.
func (p Project) Cost() decimal.Decimal {
	return p.sumFinancials(FinancialCost)
}

// Margin is revenue minus cost. Never stored, always derived.
func (p Project) Margin() decimal.Decimal {
	return p.Revenue().Sub(p.Cost())
}

func (p Project) sumFinancials(kind FinancialType) decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.Financials {
		if item.Type == kind {
			total = total.Add(item.Amount)
		}
	}
	return total
}

// Clone returns a deep copy so mirror snapshots never alias caller state.
func (p Project) Clone() Project {
	out := p
	if p.Contract != nil {
		c := *p.Contract
		out.Contract = &c
	}
	out.Financials = append([]FinancialItem(nil), p.Financials...)
	out.Tasks = append([]Task(nil), p.Tasks...)
	out.TeamIDs = append([]string(nil), p.TeamIDs...)
	return out
}

// Clone returns a copy with the action detached.
func (n Notification) Clone() Notification {
	out := n
	if n.Action != nil {
		a := *n.Action
		out.Action = &a
	}
	return out
}

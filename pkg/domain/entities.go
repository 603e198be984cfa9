// Package domain defines the persistent sequela classification records, the
// error taxonomy, and the rule evaluation primitives used by sequelacore.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain. The
// values double as the table names accepted by request documents.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySequela identifies a sequela (leaf or aggregate classification node).
	EntitySequela EntityType = "sequela"
	// EntitySet identifies a named grouping of versions.
	EntitySet EntityType = "sequela_set"
	// EntitySetVersion identifies one snapshot of a set for a round.
	EntitySetVersion EntityType = "sequela_set_version"
	// EntityHierarchy identifies a per-version hierarchy row.
	EntityHierarchy EntityType = "sequela_hierarchy_history"
	// EntityRei identifies a per-version risk/etiology/impairment mapping.
	EntityRei EntityType = "sequela_rei_history"
	// EntityActiveVersion identifies the active version pointer of a (set, round).
	EntityActiveVersion EntityType = "sequela_set_version_active"
)

// Root sentinel present in every hierarchy at level 0.
const (
	RootSequelaID   = 0
	RootSequelaName = "root"
	RootPath        = "0"
)

// Audit action flags stamped into LastUpdatedAction.
const (
	AuditInsert = "INSERT"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Audit carries the bookkeeping columns shared by every table.
type Audit struct {
	DateInserted      time.Time `json:"date_inserted"`
	InsertedBy        string    `json:"inserted_by"`
	LastUpdated       time.Time `json:"last_updated"`
	LastUpdatedBy     string    `json:"last_updated_by"`
	LastUpdatedAction string    `json:"last_updated_action"`
}

// Sequela is a classification node reusable across hierarchy versions.
type Sequela struct {
	ID          int        `json:"sequela_id"`
	Name        string     `json:"sequela_name"`
	ActiveStart time.Time  `json:"active_start"`
	ActiveEnd   *time.Time `json:"active_end,omitempty"`
	Audit
}

// Active reports whether the sequela has not been soft-deleted.
func (s Sequela) Active() bool { return s.ActiveEnd == nil }

// Delete marks the sequela as deprecated. Repeated calls restamp the end time.
func (s *Sequela) Delete(now time.Time) {
	end := now
	s.ActiveEnd = &end
	s.LastUpdatedAction = AuditDelete
}

// SequelaSet is a named grouping of versions.
type SequelaSet struct {
	ID          int    `json:"sequela_set_id"`
	Name        string `json:"sequela_set_name"`
	Description string `json:"sequela_set_description,omitempty"`
	Audit
}

// Delete marks the set as deprecated. Sets carry no active window.
func (s *SequelaSet) Delete() {
	s.LastUpdatedAction = AuditDelete
}

// SequelaSetVersion is one snapshot of a set's hierarchy and rei mappings
// scoped to a reporting round.
type SequelaSetVersion struct {
	ID            int        `json:"sequela_set_version_id"`
	SetID         int        `json:"sequela_set_id"`
	Version       string     `json:"sequela_set_version"`
	Description   string     `json:"sequela_set_version_description,omitempty"`
	Justification string     `json:"sequela_set_version_justification,omitempty"`
	RoundID       int        `json:"gbd_round_id"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	Audit
}

// Delete marks the version as deprecated.
func (v *SequelaSetVersion) Delete(now time.Time) {
	end := now
	v.EndDate = &end
	v.LastUpdatedAction = AuditDelete
}

// HierarchyKey addresses one hierarchy row.
type HierarchyKey struct {
	VersionID int
	SequelaID int
}

func (k HierarchyKey) String() string {
	return fmt.Sprintf("sequela_set_version_id=%d, sequela_id=%d", k.VersionID, k.SequelaID)
}

// HierarchyRow is the denormalized position of one sequela in one version's
// tree. Descriptive columns are copied at insertion time rather than joined.
type HierarchyRow struct {
	VersionID         int        `json:"sequela_set_version_id"`
	SetID             int        `json:"sequela_set_id"`
	SequelaID         int        `json:"sequela_id"`
	Level             int        `json:"level"`
	MostDetailed      int        `json:"most_detailed"`
	ParentID          int        `json:"parent_id"`
	PathToTopParent   string     `json:"path_to_top_parent,omitempty"`
	SortOrder         float64    `json:"sort_order"`
	SequelaName       string     `json:"sequela_name"`
	ModelableEntityID *int       `json:"modelable_entity_id,omitempty"`
	CauseID           *int       `json:"cause_id,omitempty"`
	HealthstateID     *int       `json:"healthstate_id,omitempty"`
	StartDate         time.Time  `json:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	Audit
}

// Key returns the composite primary key of the row.
func (h HierarchyRow) Key() HierarchyKey {
	return HierarchyKey{VersionID: h.VersionID, SequelaID: h.SequelaID}
}

// IsRoot reports whether the row is the synthetic level-0 root.
func (h HierarchyRow) IsRoot() bool { return h.SequelaID == RootSequelaID }

// IsAggregate reports whether the row groups other rows.
func (h HierarchyRow) IsAggregate() bool { return h.MostDetailed == 0 }

// Attach rewrites the parent-derived columns so the row sits directly under parent.
func (h *HierarchyRow) Attach(parent HierarchyRow) {
	h.ParentID = parent.SequelaID
	h.PathToTopParent = JoinPath(parent.PathToTopParent, h.SequelaID)
	h.Level = parent.Level + 1
}

// Delete is refused at the model layer; removal goes through the request
// table handler so children are reassigned first.
func (h HierarchyRow) Delete() error {
	return IllegalStructuralOperationError{Table: string(EntityHierarchy), Operation: "model-level delete"}
}

// JoinPath appends id to a comma separated path-to-root.
func JoinPath(parentPath string, id int) string {
	return fmt.Sprintf("%s,%d", parentPath, id)
}

// ReiKey addresses one rei mapping row.
type ReiKey struct {
	VersionID int
	SequelaID int
	ReiID     int
}

func (k ReiKey) String() string {
	return fmt.Sprintf("sequela_set_version_id=%d, sequela_id=%d, rei_id=%d", k.VersionID, k.SequelaID, k.ReiID)
}

// ReiRow maps a sequela to a risk, etiology, or impairment within a version.
type ReiRow struct {
	VersionID int `json:"sequela_set_version_id"`
	SequelaID int `json:"sequela_id"`
	ReiID     int `json:"rei_id"`
	Audit
}

// Key returns the composite primary key of the row.
func (r ReiRow) Key() ReiKey {
	return ReiKey{VersionID: r.VersionID, SequelaID: r.SequelaID, ReiID: r.ReiID}
}

// Delete is refused at the model layer.
func (r ReiRow) Delete() error {
	return IllegalStructuralOperationError{Table: string(EntityRei), Operation: "model-level delete"}
}

// ActiveKey addresses the active version pointer of a set for a round.
type ActiveKey struct {
	SetID   int
	RoundID int
}

func (k ActiveKey) String() string {
	return fmt.Sprintf("sequela_set_id=%d, gbd_round_id=%d", k.SetID, k.RoundID)
}

// ActiveVersion selects the authoritative version for a (set, round) pair.
type ActiveVersion struct {
	SetID     int `json:"sequela_set_id"`
	RoundID   int `json:"gbd_round_id"`
	VersionID int `json:"sequela_set_version_id"`
	Audit
}

// Key returns the composite primary key of the row.
func (a ActiveVersion) Key() ActiveKey {
	return ActiveKey{SetID: a.SetID, RoundID: a.RoundID}
}

// Action represents the type of change applied within a transaction.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

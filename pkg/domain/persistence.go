package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to store state. Lists are
// returned in ascending key order.
type TransactionView interface {
	FindSequela(id int) (Sequela, bool)
	ListSequelae() []Sequela
	FindSet(id int) (SequelaSet, bool)
	ListSets() []SequelaSet
	FindSetVersion(id int) (SequelaSetVersion, bool)
	ListSetVersions() []SequelaSetVersion
	FindHierarchyRow(key HierarchyKey) (HierarchyRow, bool)
	ListHierarchyRows(versionID int) []HierarchyRow
	// ListChildren returns the rows whose parent is parentID, in attach order.
	ListChildren(versionID, parentID int) []HierarchyRow
	FindReiRow(key ReiKey) (ReiRow, bool)
	ListReiRows(versionID int) []ReiRow
	FindActiveVersion(key ActiveKey) (ActiveVersion, bool)
	ListActiveVersions() []ActiveVersion
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Writes are visible to later reads in
// the same transaction and discarded if the transaction function fails.
//
// A zero ID on Create for sequelae, sets, and versions requests a generated
// key; non-zero IDs are honored.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	Now() time.Time

	CreateSequela(Sequela) (Sequela, error)
	UpdateSequela(id int, mutator func(*Sequela) error) (Sequela, error)
	// EnsureRootSequela creates the synthetic root sequela when absent.
	EnsureRootSequela() (Sequela, error)

	CreateSet(SequelaSet) (SequelaSet, error)
	UpdateSet(id int, mutator func(*SequelaSet) error) (SequelaSet, error)

	CreateSetVersion(SequelaSetVersion) (SequelaSetVersion, error)
	UpdateSetVersion(id int, mutator func(*SequelaSetVersion) error) (SequelaSetVersion, error)

	CreateHierarchyRow(HierarchyRow) (HierarchyRow, error)
	UpdateHierarchyRow(key HierarchyKey, mutator func(*HierarchyRow) error) (HierarchyRow, error)
	DeleteHierarchyRow(key HierarchyKey) error

	CreateReiRow(ReiRow) (ReiRow, error)
	DeleteReiRow(key ReiKey) error

	CreateActiveVersion(ActiveVersion) (ActiveVersion, error)
	UpdateActiveVersion(key ActiveKey, mutator func(*ActiveVersion) error) (ActiveVersion, error)
}

// PersistentStore is a minimal abstraction over durable backends. It assumes
// a single writer: RunInTransaction calls are serialized by the store.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}

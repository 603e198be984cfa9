// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments, and as the working set of the
// snapshotting sqlite and postgres stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sequelacore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Sequela aliases domain.Sequela for in-memory persistence operations.
	Sequela = domain.Sequela
	// SequelaSet aliases domain.SequelaSet.
	SequelaSet = domain.SequelaSet
	// SequelaSetVersion aliases domain.SequelaSetVersion.
	SequelaSetVersion = domain.SequelaSetVersion
	// HierarchyRow aliases domain.HierarchyRow.
	HierarchyRow = domain.HierarchyRow
	// ReiRow aliases domain.ReiRow.
	ReiRow = domain.ReiRow
	// ActiveVersion aliases domain.ActiveVersion.
	ActiveVersion = domain.ActiveVersion
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// DefaultActor is stamped into audit columns when no actor is configured.
const DefaultActor = "unknown"

// Option customises a Store.
type Option func(*Store)

// WithActor sets the user name stamped into audit columns.
func WithActor(actor string) Option {
	return func(s *Store) {
		if actor != "" {
			s.actor = actor
		}
	}
}

// WithClock overrides the time source used for audit and window columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook registers fn to run with the candidate state after rules pass
// and before the state is swapped in. An error from fn aborts the transaction.
func WithCommitHook(fn func(context.Context, Snapshot) error) Option {
	return func(s *Store) { s.commitHook = fn }
}

// Store provides an in-memory transactional store for the core domain.
// Transactions are serialized; a failed transaction leaves state untouched.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	actor  string

	commitHook func(context.Context, Snapshot) error
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		actor:  DefaultActor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc replaces the clock; intended for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	transactionView
	store   *Store
	state   *memoryState
	changes []Change
	now     time.Time
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state.clone()
	tx := &transaction{
		transactionView: transactionView{state: &state},
		store:           s,
		state:           &state,
		now:             s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.commitHook != nil {
		if err := s.commitHook(ctx, snapshotFromMemoryState(state)); err != nil {
			return result, err
		}
	}
	s.state = state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(tx.state)
}

// Now returns the timestamp shared by every write in the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) stampInsert(a *domain.Audit) {
	a.DateInserted = tx.now
	a.InsertedBy = tx.store.actor
	a.LastUpdated = tx.now
	a.LastUpdatedBy = tx.store.actor
	a.LastUpdatedAction = domain.AuditInsert
}

func (tx *transaction) stampUpdate(a *domain.Audit) {
	a.LastUpdated = tx.now
	a.LastUpdatedBy = tx.store.actor
	if a.LastUpdatedAction != domain.AuditDelete {
		a.LastUpdatedAction = domain.AuditUpdate
	}
}

func (tx *transaction) activeNameTaken(name string, except int) (int, bool) {
	for id, s := range tx.state.sequelae {
		if id != except && s.Active() && s.Name == name {
			return id, true
		}
	}
	return 0, false
}

// CreateSequela stores a new sequela. A zero ID allocates max+1.
func (tx *transaction) CreateSequela(s Sequela) (Sequela, error) {
	if s.ID == domain.RootSequelaID {
		s.ID = maxKey(tx.state.sequelae) + 1
	}
	if _, exists := tx.state.sequelae[s.ID]; exists {
		return Sequela{}, fmt.Errorf("sequela %d already exists: %w", s.ID, domain.ErrConflict)
	}
	if other, taken := tx.activeNameTaken(s.Name, s.ID); taken {
		return Sequela{}, fmt.Errorf("sequela name %q already used by active sequela %d: %w", s.Name, other, domain.ErrConflict)
	}
	return tx.putNewSequela(s), nil
}

func (tx *transaction) putNewSequela(s Sequela) Sequela {
	if s.ActiveStart.IsZero() {
		s.ActiveStart = tx.now
	}
	tx.stampInsert(&s.Audit)
	tx.state.sequelae[s.ID] = cloneSequela(s)
	tx.recordChange(Change{Entity: domain.EntitySequela, Action: domain.ActionCreate, After: cloneSequela(s)})
	return cloneSequela(s)
}

// EnsureRootSequela creates the synthetic root sequela when absent.
func (tx *transaction) EnsureRootSequela() (Sequela, error) {
	if root, ok := tx.state.sequelae[domain.RootSequelaID]; ok {
		return cloneSequela(root), nil
	}
	return tx.putNewSequela(Sequela{ID: domain.RootSequelaID, Name: domain.RootSequelaName}), nil
}

// UpdateSequela mutates a sequela using the provided mutator function.
func (tx *transaction) UpdateSequela(id int, mutator func(*Sequela) error) (Sequela, error) {
	current, ok := tx.state.sequelae[id]
	if !ok {
		return Sequela{}, domain.NotFoundError{Table: string(domain.EntitySequela), Key: fmt.Sprintf("sequela_id=%d", id)}
	}
	before := cloneSequela(current)
	if err := mutator(&current); err != nil {
		return Sequela{}, err
	}
	current.ID = id
	if current.Active() && current.Name != before.Name {
		if other, taken := tx.activeNameTaken(current.Name, id); taken {
			return Sequela{}, fmt.Errorf("sequela name %q already used by active sequela %d: %w", current.Name, other, domain.ErrConflict)
		}
	}
	tx.stampUpdate(&current.Audit)
	tx.state.sequelae[id] = cloneSequela(current)
	tx.recordChange(Change{Entity: domain.EntitySequela, Action: domain.ActionUpdate, Before: before, After: cloneSequela(current)})
	return cloneSequela(current), nil
}

// CreateSet stores a new sequela set. A zero ID allocates max+1.
func (tx *transaction) CreateSet(set SequelaSet) (SequelaSet, error) {
	if set.ID == 0 {
		set.ID = maxKey(tx.state.sets) + 1
	}
	if _, exists := tx.state.sets[set.ID]; exists {
		return SequelaSet{}, fmt.Errorf("sequela set %d already exists: %w", set.ID, domain.ErrConflict)
	}
	tx.stampInsert(&set.Audit)
	tx.state.sets[set.ID] = set
	tx.recordChange(Change{Entity: domain.EntitySet, Action: domain.ActionCreate, After: set})
	return set, nil
}

// UpdateSet mutates an existing set.
func (tx *transaction) UpdateSet(id int, mutator func(*SequelaSet) error) (SequelaSet, error) {
	current, ok := tx.state.sets[id]
	if !ok {
		return SequelaSet{}, domain.NotFoundError{Table: string(domain.EntitySet), Key: fmt.Sprintf("sequela_set_id=%d", id)}
	}
	before := current
	if err := mutator(&current); err != nil {
		return SequelaSet{}, err
	}
	current.ID = id
	tx.stampUpdate(&current.Audit)
	tx.state.sets[id] = current
	tx.recordChange(Change{Entity: domain.EntitySet, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateSetVersion stores a new version attached to an existing set.
func (tx *transaction) CreateSetVersion(v SequelaSetVersion) (SequelaSetVersion, error) {
	if _, ok := tx.state.sets[v.SetID]; !ok {
		return SequelaSetVersion{}, domain.NotFoundError{Table: string(domain.EntitySet), Key: fmt.Sprintf("sequela_set_id=%d", v.SetID)}
	}
	if v.ID == 0 {
		v.ID = maxKey(tx.state.versions) + 1
	}
	if _, exists := tx.state.versions[v.ID]; exists {
		return SequelaSetVersion{}, fmt.Errorf("sequela set version %d already exists: %w", v.ID, domain.ErrConflict)
	}
	if v.StartDate.IsZero() {
		v.StartDate = tx.now
	}
	tx.stampInsert(&v.Audit)
	tx.state.versions[v.ID] = cloneSetVersion(v)
	tx.recordChange(Change{Entity: domain.EntitySetVersion, Action: domain.ActionCreate, After: cloneSetVersion(v)})
	return cloneSetVersion(v), nil
}

// UpdateSetVersion mutates an existing version. The owning set cannot change.
func (tx *transaction) UpdateSetVersion(id int, mutator func(*SequelaSetVersion) error) (SequelaSetVersion, error) {
	current, ok := tx.state.versions[id]
	if !ok {
		return SequelaSetVersion{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", id)}
	}
	before := cloneSetVersion(current)
	if err := mutator(&current); err != nil {
		return SequelaSetVersion{}, err
	}
	current.ID = id
	current.SetID = before.SetID
	tx.stampUpdate(&current.Audit)
	tx.state.versions[id] = cloneSetVersion(current)
	tx.recordChange(Change{Entity: domain.EntitySetVersion, Action: domain.ActionUpdate, Before: before, After: cloneSetVersion(current)})
	return cloneSetVersion(current), nil
}

// CreateHierarchyRow stores a new hierarchy row and links it under its parent.
func (tx *transaction) CreateHierarchyRow(h HierarchyRow) (HierarchyRow, error) {
	version, ok := tx.state.versions[h.VersionID]
	if !ok {
		return HierarchyRow{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", h.VersionID)}
	}
	if _, ok := tx.state.sequelae[h.SequelaID]; !ok {
		return HierarchyRow{}, domain.NotFoundError{Table: string(domain.EntitySequela), Key: fmt.Sprintf("sequela_id=%d", h.SequelaID)}
	}
	a := tx.state.arena(h.VersionID)
	if _, exists := a.rows[h.SequelaID]; exists {
		return HierarchyRow{}, fmt.Errorf("hierarchy row %s already exists: %w", h.Key(), domain.ErrConflict)
	}
	if h.SetID == 0 {
		h.SetID = version.SetID
	}
	if h.StartDate.IsZero() {
		h.StartDate = tx.now
	}
	tx.stampInsert(&h.Audit)
	a.rows[h.SequelaID] = cloneHierarchyRow(h)
	a.attach(h.ParentID, h.SequelaID)
	tx.recordChange(Change{Entity: domain.EntityHierarchy, Action: domain.ActionCreate, After: cloneHierarchyRow(h)})
	return cloneHierarchyRow(h), nil
}

// UpdateHierarchyRow mutates a hierarchy row. A changed parent moves the row to
// the end of the new parent's child list.
func (tx *transaction) UpdateHierarchyRow(key domain.HierarchyKey, mutator func(*HierarchyRow) error) (HierarchyRow, error) {
	a, ok := tx.state.hierarchy[key.VersionID]
	if !ok {
		return HierarchyRow{}, domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: key.String()}
	}
	current, ok := a.rows[key.SequelaID]
	if !ok {
		return HierarchyRow{}, domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: key.String()}
	}
	before := cloneHierarchyRow(current)
	if err := mutator(&current); err != nil {
		return HierarchyRow{}, err
	}
	current.VersionID = key.VersionID
	current.SequelaID = key.SequelaID
	current.SetID = before.SetID
	tx.stampUpdate(&current.Audit)
	a.rows[key.SequelaID] = cloneHierarchyRow(current)
	if current.ParentID != before.ParentID {
		a.detach(before.ParentID, key.SequelaID)
		a.attach(current.ParentID, key.SequelaID)
	}
	tx.recordChange(Change{Entity: domain.EntityHierarchy, Action: domain.ActionUpdate, Before: before, After: cloneHierarchyRow(current)})
	return cloneHierarchyRow(current), nil
}

// DeleteHierarchyRow removes a hierarchy row and unlinks it from its parent.
func (tx *transaction) DeleteHierarchyRow(key domain.HierarchyKey) error {
	a, ok := tx.state.hierarchy[key.VersionID]
	if !ok {
		return domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: key.String()}
	}
	current, ok := a.rows[key.SequelaID]
	if !ok {
		return domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: key.String()}
	}
	delete(a.rows, key.SequelaID)
	a.detach(current.ParentID, key.SequelaID)
	tx.recordChange(Change{Entity: domain.EntityHierarchy, Action: domain.ActionDelete, Before: cloneHierarchyRow(current)})
	return nil
}

// CreateReiRow stores a new rei mapping.
func (tx *transaction) CreateReiRow(r ReiRow) (ReiRow, error) {
	if _, ok := tx.state.versions[r.VersionID]; !ok {
		return ReiRow{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", r.VersionID)}
	}
	if _, ok := tx.state.sequelae[r.SequelaID]; !ok {
		return ReiRow{}, domain.NotFoundError{Table: string(domain.EntitySequela), Key: fmt.Sprintf("sequela_id=%d", r.SequelaID)}
	}
	if _, exists := tx.state.rei[r.Key()]; exists {
		return ReiRow{}, fmt.Errorf("rei row %s already exists: %w", r.Key(), domain.ErrConflict)
	}
	tx.stampInsert(&r.Audit)
	tx.state.rei[r.Key()] = r
	tx.recordChange(Change{Entity: domain.EntityRei, Action: domain.ActionCreate, After: r})
	return r, nil
}

// DeleteReiRow removes a rei mapping.
func (tx *transaction) DeleteReiRow(key domain.ReiKey) error {
	current, ok := tx.state.rei[key]
	if !ok {
		return domain.NotFoundError{Table: string(domain.EntityRei), Key: key.String()}
	}
	delete(tx.state.rei, key)
	tx.recordChange(Change{Entity: domain.EntityRei, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateActiveVersion stores the active pointer for a (set, round) pair.
func (tx *transaction) CreateActiveVersion(a ActiveVersion) (ActiveVersion, error) {
	if _, ok := tx.state.versions[a.VersionID]; !ok {
		return ActiveVersion{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", a.VersionID)}
	}
	if _, exists := tx.state.active[a.Key()]; exists {
		return ActiveVersion{}, fmt.Errorf("active version %s already exists: %w", a.Key(), domain.ErrConflict)
	}
	tx.stampInsert(&a.Audit)
	tx.state.active[a.Key()] = a
	tx.recordChange(Change{Entity: domain.EntityActiveVersion, Action: domain.ActionCreate, After: a})
	return a, nil
}

// UpdateActiveVersion mutates the active pointer of a (set, round) pair.
func (tx *transaction) UpdateActiveVersion(key domain.ActiveKey, mutator func(*ActiveVersion) error) (ActiveVersion, error) {
	current, ok := tx.state.active[key]
	if !ok {
		return ActiveVersion{}, domain.NotFoundError{Table: string(domain.EntityActiveVersion), Key: key.String()}
	}
	before := current
	if err := mutator(&current); err != nil {
		return ActiveVersion{}, err
	}
	current.SetID = key.SetID
	current.RoundID = key.RoundID
	if _, ok := tx.state.versions[current.VersionID]; !ok {
		return ActiveVersion{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", current.VersionID)}
	}
	tx.stampUpdate(&current.Audit)
	tx.state.active[key] = current
	tx.recordChange(Change{Entity: domain.EntityActiveVersion, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindSequela retrieves a sequela by ID.
func (v transactionView) FindSequela(id int) (Sequela, bool) {
	s, ok := v.state.sequelae[id]
	if !ok {
		return Sequela{}, false
	}
	return cloneSequela(s), true
}

// ListSequelae returns all sequelae ordered by ID.
func (v transactionView) ListSequelae() []Sequela {
	out := make([]Sequela, 0, len(v.state.sequelae))
	for _, id := range sortedKeys(v.state.sequelae) {
		out = append(out, cloneSequela(v.state.sequelae[id]))
	}
	return out
}

// FindSet retrieves a set by ID.
func (v transactionView) FindSet(id int) (SequelaSet, bool) {
	s, ok := v.state.sets[id]
	return s, ok
}

// ListSets returns all sets ordered by ID.
func (v transactionView) ListSets() []SequelaSet {
	out := make([]SequelaSet, 0, len(v.state.sets))
	for _, id := range sortedKeys(v.state.sets) {
		out = append(out, v.state.sets[id])
	}
	return out
}

// FindSetVersion retrieves a version by ID.
func (v transactionView) FindSetVersion(id int) (SequelaSetVersion, bool) {
	sv, ok := v.state.versions[id]
	if !ok {
		return SequelaSetVersion{}, false
	}
	return cloneSetVersion(sv), true
}

// ListSetVersions returns all versions ordered by ID.
func (v transactionView) ListSetVersions() []SequelaSetVersion {
	out := make([]SequelaSetVersion, 0, len(v.state.versions))
	for _, id := range sortedKeys(v.state.versions) {
		out = append(out, cloneSetVersion(v.state.versions[id]))
	}
	return out
}

// FindHierarchyRow retrieves a hierarchy row by composite key.
func (v transactionView) FindHierarchyRow(key domain.HierarchyKey) (HierarchyRow, bool) {
	a, ok := v.state.hierarchy[key.VersionID]
	if !ok {
		return HierarchyRow{}, false
	}
	h, ok := a.rows[key.SequelaID]
	if !ok {
		return HierarchyRow{}, false
	}
	return cloneHierarchyRow(h), true
}

// ListHierarchyRows returns the rows of a version ordered by sequela ID.
func (v transactionView) ListHierarchyRows(versionID int) []HierarchyRow {
	a, ok := v.state.hierarchy[versionID]
	if !ok {
		return nil
	}
	out := make([]HierarchyRow, 0, len(a.rows))
	for _, id := range sortedKeys(a.rows) {
		out = append(out, cloneHierarchyRow(a.rows[id]))
	}
	return out
}

// ListChildren returns the direct children of parentID in attach order.
func (v transactionView) ListChildren(versionID, parentID int) []HierarchyRow {
	a, ok := v.state.hierarchy[versionID]
	if !ok {
		return nil
	}
	kids := a.children[parentID]
	out := make([]HierarchyRow, 0, len(kids))
	for _, id := range kids {
		if row, ok := a.rows[id]; ok {
			out = append(out, cloneHierarchyRow(row))
		}
	}
	return out
}

// FindReiRow retrieves a rei mapping by composite key.
func (v transactionView) FindReiRow(key domain.ReiKey) (ReiRow, bool) {
	r, ok := v.state.rei[key]
	return r, ok
}

// ListReiRows returns the rei mappings of a version.
func (v transactionView) ListReiRows(versionID int) []ReiRow {
	var out []ReiRow
	for _, r := range sortedReiRows(v.state.rei) {
		if r.VersionID == versionID {
			out = append(out, r)
		}
	}
	return out
}

// FindActiveVersion retrieves the active pointer of a (set, round) pair.
func (v transactionView) FindActiveVersion(key domain.ActiveKey) (ActiveVersion, bool) {
	a, ok := v.state.active[key]
	return a, ok
}

// ListActiveVersions returns every active pointer ordered by set then round.
func (v transactionView) ListActiveVersions() []ActiveVersion {
	out := make([]ActiveVersion, 0, len(v.state.active))
	for _, a := range v.state.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SetID != out[j].SetID {
			return out[i].SetID < out[j].SetID
		}
		return out[i].RoundID < out[j].RoundID
	})
	return out
}

// Package hierarchy implements the tree mutations applied to the hierarchy
// rows of a single sequela set version.
//
// Rows carry denormalized parent_id, level, and path_to_top_parent columns.
// Reparent rewrites those columns for the moved rows and for one level of
// their children only; deeper descendants keep the values they had.
package hierarchy

import (
	"fmt"

	"sequelacore/pkg/domain"
)

// Attributes are the descriptive ids copied onto a hierarchy row at insertion.
// None of them are validated against the tree.
type Attributes struct {
	CauseID           *int
	ModelableEntityID *int
	HealthstateID     *int
}

// Engine mutates the hierarchy rows of one version inside a transaction.
type Engine struct {
	tx        domain.Transaction
	versionID int
}

// NewEngine binds an engine to a transaction and version.
func NewEngine(tx domain.Transaction, versionID int) *Engine {
	return &Engine{tx: tx, versionID: versionID}
}

// VersionID returns the version the engine operates on.
func (e *Engine) VersionID() int { return e.versionID }

func (e *Engine) key(sequelaID int) domain.HierarchyKey {
	return domain.HierarchyKey{VersionID: e.versionID, SequelaID: sequelaID}
}

// Find returns the row of sequelaID in this version.
func (e *Engine) Find(sequelaID int) (domain.HierarchyRow, bool) {
	return e.tx.FindHierarchyRow(e.key(sequelaID))
}

// Children returns the direct children of parentID in attach order.
func (e *Engine) Children(parentID int) []domain.HierarchyRow {
	return e.tx.ListChildren(e.versionID, parentID)
}

// Descendants returns every row below sequelaID, breadth first.
func (e *Engine) Descendants(sequelaID int) []domain.HierarchyRow {
	var out []domain.HierarchyRow
	seen := map[int]bool{sequelaID: true}
	queue := []int{sequelaID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range e.Children(id) {
			if seen[child.SequelaID] {
				continue
			}
			seen[child.SequelaID] = true
			out = append(out, child)
			queue = append(queue, child.SequelaID)
		}
	}
	return out
}

// EnsureRoot creates the root sequela and its level-0 row when missing.
func (e *Engine) EnsureRoot() (domain.HierarchyRow, error) {
	if row, ok := e.Find(domain.RootSequelaID); ok {
		return row, nil
	}
	root, err := e.tx.EnsureRootSequela()
	if err != nil {
		return domain.HierarchyRow{}, err
	}
	return e.tx.CreateHierarchyRow(domain.HierarchyRow{
		VersionID:       e.versionID,
		SequelaID:       root.ID,
		Level:           0,
		MostDetailed:    0,
		ParentID:        domain.RootSequelaID,
		PathToTopParent: domain.RootPath,
		SequelaName:     root.Name,
	})
}

// InsertLeaf adds a most-detailed row directly under the root. Leaf rows are
// created without a path.
func (e *Engine) InsertLeaf(sequela domain.Sequela, attrs Attributes) (domain.HierarchyRow, error) {
	return e.tx.CreateHierarchyRow(domain.HierarchyRow{
		VersionID:         e.versionID,
		SequelaID:         sequela.ID,
		Level:             1,
		MostDetailed:      1,
		ParentID:          domain.RootSequelaID,
		SequelaName:       sequela.Name,
		CauseID:           attrs.CauseID,
		ModelableEntityID: attrs.ModelableEntityID,
		HealthstateID:     attrs.HealthstateID,
	})
}

// InsertAggregate adds an aggregate row under the root and attaches children to it.
func (e *Engine) InsertAggregate(sequela domain.Sequela, children []int, attrs Attributes) (domain.HierarchyRow, error) {
	if _, err := e.tx.CreateHierarchyRow(domain.HierarchyRow{
		VersionID:         e.versionID,
		SequelaID:         sequela.ID,
		Level:             1,
		MostDetailed:      0,
		ParentID:          domain.RootSequelaID,
		PathToTopParent:   domain.JoinPath(domain.RootPath, sequela.ID),
		SequelaName:       sequela.Name,
		CauseID:           attrs.CauseID,
		ModelableEntityID: attrs.ModelableEntityID,
		HealthstateID:     attrs.HealthstateID,
	}); err != nil {
		return domain.HierarchyRow{}, err
	}
	if err := e.Reparent(sequela.ID, children, false); err != nil {
		return domain.HierarchyRow{}, err
	}
	row, _ := e.Find(sequela.ID)
	return row, nil
}

// Reparent makes each existing row named in children a direct child of
// parentID. Ids without a row in the version are skipped.
//
// With cascade set and a non-root parent, the parent's other children are
// pushed up to the grandparent, and the same cascade is applied there.
//
// Callers must not request a move that places an ancestor below one of its
// descendants.
func (e *Engine) Reparent(parentID int, children []int, cascade bool) error {
	parent, ok := e.Find(parentID)
	if !ok {
		return domain.IllegalArgumentError{Reason: fmt.Sprintf("reparent target %s has no hierarchy row", e.key(parentID))}
	}

	resolved := e.resolve(children)
	for _, child := range resolved {
		if child.IsRoot() || child.SequelaID == parent.SequelaID || child.ParentID == parent.SequelaID {
			continue
		}
		moved, err := e.tx.UpdateHierarchyRow(child.Key(), func(h *domain.HierarchyRow) error {
			h.Attach(parent)
			return nil
		})
		if err != nil {
			return fmt.Errorf("reparent %s: %w", child.Key(), err)
		}
		for _, grandchild := range e.Children(moved.SequelaID) {
			if _, err := e.tx.UpdateHierarchyRow(grandchild.Key(), func(h *domain.HierarchyRow) error {
				h.Attach(moved)
				return nil
			}); err != nil {
				return fmt.Errorf("reparent %s: %w", grandchild.Key(), err)
			}
		}
	}

	if parent.IsRoot() || !cascade {
		return nil
	}
	keep := make(map[int]bool, len(resolved))
	for _, row := range resolved {
		keep[row.SequelaID] = true
	}
	var remove []int
	for _, child := range e.Children(parent.SequelaID) {
		if !keep[child.SequelaID] {
			remove = append(remove, child.SequelaID)
		}
	}
	return e.Reparent(parent.ParentID, remove, true)
}

// resolve maps ids to their rows in request order, dropping duplicates and
// ids without a row.
func (e *Engine) resolve(ids []int) []domain.HierarchyRow {
	out := make([]domain.HierarchyRow, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if row, ok := e.Find(id); ok {
			out = append(out, row)
		}
	}
	return out
}

// DeleteAggregate moves the children of an aggregate up to its parent and
// removes the aggregate's row.
func (e *Engine) DeleteAggregate(sequelaID int) error {
	row, ok := e.Find(sequelaID)
	if !ok {
		return domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: e.key(sequelaID).String()}
	}
	if row.IsRoot() {
		return domain.IllegalStructuralOperationError{Table: string(domain.EntityHierarchy), Operation: "root delete"}
	}
	var ids []int
	for _, child := range e.Children(sequelaID) {
		ids = append(ids, child.SequelaID)
	}
	if len(ids) > 0 {
		if err := e.Reparent(row.ParentID, ids, false); err != nil {
			return err
		}
	}
	return e.tx.DeleteHierarchyRow(row.Key())
}

// DeleteRow removes a row. Aggregates hand their children to their parent first.
func (e *Engine) DeleteRow(sequelaID int) error {
	row, ok := e.Find(sequelaID)
	if !ok {
		return domain.NotFoundError{Table: string(domain.EntityHierarchy), Key: e.key(sequelaID).String()}
	}
	if row.IsAggregate() {
		return e.DeleteAggregate(sequelaID)
	}
	return e.tx.DeleteHierarchyRow(row.Key())
}

// Package backfill copies the hierarchy and rei rows of one set version into
// another. Structural columns are copied verbatim; audit and window columns
// are stamped fresh by the store.
package backfill

import (
	"fmt"
	"sort"
	"time"

	"sequelacore/pkg/domain"
)

// Counts reports how many rows were copied.
type Counts struct {
	Hierarchy int
	Rei       int
}

// Copy backfills newVersionID from oldVersionID. Both versions must belong to
// the same set.
func Copy(tx domain.Transaction, newVersionID, oldVersionID int) (Counts, error) {
	var counts Counts
	newVersion, ok := tx.FindSetVersion(newVersionID)
	if !ok {
		return counts, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", newVersionID)}
	}
	oldVersion, ok := tx.FindSetVersion(oldVersionID)
	if !ok {
		return counts, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", oldVersionID)}
	}
	if newVersion.SetID != oldVersion.SetID {
		return counts, domain.IllegalArgumentError{Reason: fmt.Sprintf(
			"cannot backfill version %d of set %d from version %d of set %d",
			newVersion.ID, newVersion.SetID, oldVersion.ID, oldVersion.SetID)}
	}
	if newVersionID == oldVersionID {
		return counts, domain.IllegalArgumentError{Reason: fmt.Sprintf("cannot backfill version %d from itself", newVersionID)}
	}

	for _, row := range siblingOrder(tx, oldVersionID) {
		row.VersionID = newVersionID
		row.StartDate = time.Time{}
		row.EndDate = nil
		row.Audit = domain.Audit{}
		if _, err := tx.CreateHierarchyRow(row); err != nil {
			return counts, fmt.Errorf("backfill hierarchy row %d: %w", row.SequelaID, err)
		}
		counts.Hierarchy++
	}
	for _, rei := range tx.ListReiRows(oldVersionID) {
		rei.VersionID = newVersionID
		rei.Audit = domain.Audit{}
		if _, err := tx.CreateReiRow(rei); err != nil {
			return counts, fmt.Errorf("backfill rei row %s: %w", rei.Key(), err)
		}
		counts.Rei++
	}
	return counts, nil
}

// siblingOrder lists the rows of a version so that rows sharing a parent keep
// their child order: rows nobody lists as a child come first, then each
// parent's children, parents in id order.
func siblingOrder(view domain.TransactionView, versionID int) []domain.HierarchyRow {
	rows := view.ListHierarchyRows(versionID)
	parents := make(map[int]struct{})
	for _, row := range rows {
		parents[row.ParentID] = struct{}{}
	}
	parentIDs := make([]int, 0, len(parents))
	for id := range parents {
		parentIDs = append(parentIDs, id)
	}
	sort.Ints(parentIDs)

	var children []domain.HierarchyRow
	listed := make(map[int]bool, len(rows))
	for _, id := range parentIDs {
		for _, child := range view.ListChildren(versionID, id) {
			if !listed[child.SequelaID] {
				listed[child.SequelaID] = true
				children = append(children, child)
			}
		}
	}
	out := make([]domain.HierarchyRow, 0, len(rows))
	for _, row := range rows {
		if !listed[row.SequelaID] {
			out = append(out, row)
		}
	}
	return append(out, children...)
}

package core

import (
	"context"
	"fmt"
	"sort"

	"sequelacore/pkg/domain"
)

// NewDefaultRulesEngine registers the rules every service runs at commit.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(HierarchyConsistencyRule())
	engine.Register(ActiveVersionIntegrityRule())
	return engine
}

// HierarchyConsistencyRule warns about rows in touched versions whose level or
// path disagree with their parent row, or whose parent row is missing.
// Reparenting only refreshes two levels, so deeper rows may legitimately be
// stale; the rule never blocks.
func HierarchyConsistencyRule() domain.Rule { return hierarchyConsistencyRule{} }

type hierarchyConsistencyRule struct{}

func (hierarchyConsistencyRule) Name() string { return "hierarchy_consistency" }

func (r hierarchyConsistencyRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, versionID := range touchedVersions(changes) {
		for _, row := range view.ListHierarchyRows(versionID) {
			if row.IsRoot() {
				continue
			}
			parent, ok := view.FindHierarchyRow(domain.HierarchyKey{VersionID: versionID, SequelaID: row.ParentID})
			switch {
			case !ok:
				res.Violations = append(res.Violations, r.violation(row, fmt.Sprintf("parent %d has no row in version %d", row.ParentID, versionID)))
			case row.Level != parent.Level+1:
				res.Violations = append(res.Violations, r.violation(row, fmt.Sprintf("level %d under parent %d at level %d", row.Level, parent.SequelaID, parent.Level)))
			case row.PathToTopParent != "" && parent.PathToTopParent != "" &&
				row.PathToTopParent != domain.JoinPath(parent.PathToTopParent, row.SequelaID):
				res.Violations = append(res.Violations, r.violation(row, fmt.Sprintf("path %q does not extend parent path %q", row.PathToTopParent, parent.PathToTopParent)))
			}
		}
	}
	return res, nil
}

func (r hierarchyConsistencyRule) violation(row domain.HierarchyRow, msg string) domain.Violation {
	return domain.Violation{
		Rule:     r.Name(),
		Severity: domain.SeverityWarn,
		Message:  msg,
		Entity:   domain.EntityHierarchy,
		EntityID: row.Key().String(),
	}
}

func touchedVersions(changes []domain.Change) []int {
	seen := make(map[int]struct{})
	for _, c := range changes {
		if c.Entity != domain.EntityHierarchy {
			continue
		}
		for _, v := range []any{c.Before, c.After} {
			if row, ok := v.(domain.HierarchyRow); ok {
				seen[row.VersionID] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// ActiveVersionIntegrityRule blocks activation records that point at a
// missing version or at a version of another set.
func ActiveVersionIntegrityRule() domain.Rule { return activeVersionIntegrityRule{} }

type activeVersionIntegrityRule struct{}

func (activeVersionIntegrityRule) Name() string { return "active_version_integrity" }

func (r activeVersionIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity != domain.EntityActiveVersion {
			continue
		}
		active, ok := c.After.(domain.ActiveVersion)
		if !ok {
			continue
		}
		version, found := view.FindSetVersion(active.VersionID)
		var msg string
		switch {
		case !found:
			msg = fmt.Sprintf("active version %d does not exist", active.VersionID)
		case version.SetID != active.SetID:
			msg = fmt.Sprintf("version %d belongs to set %d, not %d", version.ID, version.SetID, active.SetID)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityActiveVersion,
			EntityID: active.Key().String(),
		})
	}
	return res, nil
}

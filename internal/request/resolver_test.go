package request

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sequelacore/internal/infra/persistence/memory"
	"sequelacore/pkg/domain"
	"sequelacore/testutil/seed"
)

const testRound = 5

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	require.NoError(t, seed.Load(context.Background(), store, seed.TwoSetsFourVersions(), testRound))
	return store
}

func apply(t *testing.T, store *memory.Store, doc map[string]any) Report {
	t.Helper()
	report, err := applyErr(store, doc)
	require.NoError(t, err)
	return report
}

func applyErr(store *memory.Store, doc map[string]any) (Report, error) {
	resolver := NewResolver(DefaultRegistry(Options{DefaultRoundID: testRound}))
	var report Report
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		report, err = resolver.Process(tx, FromMap(doc))
		return err
	})
	return report, err
}

func view(t *testing.T, store *memory.Store, fn func(v domain.TransactionView)) {
	t.Helper()
	require.NoError(t, store.View(context.Background(), func(v domain.TransactionView) error {
		fn(v)
		return nil
	}))
}

func hierarchyRow(t *testing.T, v domain.TransactionView, versionID, sequelaID int) domain.HierarchyRow {
	t.Helper()
	r, ok := v.FindHierarchyRow(domain.HierarchyKey{VersionID: versionID, SequelaID: sequelaID})
	require.Truef(t, ok, "hierarchy row %d/%d missing", versionID, sequelaID)
	return r
}

func TestNewAggregateAdoptsExistingLeaves(t *testing.T) {
	store := newStore(t)
	var sequelaeBefore, rowsBefore int
	view(t, store, func(v domain.TransactionView) {
		sequelaeBefore = len(v.ListSequelae())
		rowsBefore = len(v.ListHierarchyRows(1))
	})

	report := apply(t, store, map[string]any{
		"sequela": []any{map[string]any{
			"sequela_id":   nil,
			"sequela_name": "agg",
			"sequela_hierarchy_history": map[string]any{
				"sequela_set_version_id": 1,
				"children":               []any{3, 4},
				"cause_id":               294,
			},
		}},
	})
	assert.Equal(t, 2, report.Count("", domain.ActionCreate))

	view(t, store, func(v domain.TransactionView) {
		assert.Len(t, v.ListSequelae(), sequelaeBefore+1)
		assert.Len(t, v.ListHierarchyRows(1), rowsBefore+1)
		agg := hierarchyRow(t, v, 1, 64)
		assert.Equal(t, 0, agg.MostDetailed)
		assert.Equal(t, "agg", agg.SequelaName)
		require.NotNil(t, agg.CauseID)
		assert.Equal(t, 294, *agg.CauseID)
		assert.Equal(t, 64, hierarchyRow(t, v, 1, 3).ParentID)
		assert.Equal(t, 64, hierarchyRow(t, v, 1, 4).ParentID)
		assert.Len(t, v.ListChildren(1, 64), 2)
	})
}

func TestModifyHierarchyChildrenCascades(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_hierarchy_history": []any{
			map[string]any{"sequela_set_version_id": 1, "sequela_id": 1, "children": []any{11, 21}},
			map[string]any{"sequela_set_version_id": 1, "sequela_id": 2, "children": []any{12, 22}},
		},
	})
	view(t, store, func(v domain.TransactionView) {
		for _, id := range []int{11, 21} {
			assert.Equal(t, 1, hierarchyRow(t, v, 1, id).ParentID)
		}
		for _, id := range []int{12, 22} {
			assert.Equal(t, 2, hierarchyRow(t, v, 1, id).ParentID)
		}
		for _, id := range []int{13, 14, 23} {
			r := hierarchyRow(t, v, 1, id)
			assert.Equal(t, domain.RootSequelaID, r.ParentID, "parent of %d", id)
			assert.Equal(t, 1, r.Level)
			assert.Equal(t, domain.JoinPath(domain.RootPath, id), r.PathToTopParent)
		}
	})
}

func TestInsertVersion(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_set_version": map[string]any{
			"sequela_set_id":                    1,
			"sequela_set_version_id":            nil,
			"sequela_set_version":               "dummy",
			"sequela_set_version_description":   "new",
			"sequela_set_version_justification": "we want it",
		},
	})
	view(t, store, func(v domain.TransactionView) {
		assert.Len(t, v.ListSetVersions(), 5)
		created, ok := v.FindSetVersion(5)
		require.True(t, ok)
		assert.Equal(t, "dummy", created.Version)
		assert.Equal(t, 1, created.SetID)
		assert.Equal(t, "we want it", created.Justification)
		assert.Equal(t, testRound, created.RoundID)
		assert.Empty(t, v.ListHierarchyRows(5))

		n := 0
		for _, sv := range v.ListSetVersions() {
			if sv.SetID == 1 {
				n++
			}
		}
		assert.Equal(t, 3, n)
	})
}

func TestInsertVersionRequiresLabel(t *testing.T) {
	store := newStore(t)
	_, err := applyErr(store, map[string]any{
		"sequela_set_version": map[string]any{"sequela_set_id": 1},
	})
	require.ErrorIs(t, err, domain.ErrMissingField)
	var missing domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{ColVersion}, missing.Fields)
}

func TestInsertHierarchyRowsForExistingAndNewSequelae(t *testing.T) {
	store := newStore(t)
	var rowsBefore, sequelaeBefore int
	view(t, store, func(v domain.TransactionView) {
		rowsBefore = len(v.ListHierarchyRows(2))
		sequelaeBefore = len(v.ListSequelae())
	})

	apply(t, store, map[string]any{
		"sequela": []any{
			map[string]any{
				"sequela_id":   61,
				"sequela_name": "new sequela 1",
				"sequela_hierarchy_history": map[string]any{
					"sequela_set_version_id": 2, "cause_id": 295, "modelable_entity_id": 1109, "healthstate_id": 1,
				},
			},
			map[string]any{
				"sequela_id":   nil,
				"sequela_name": "new sequela",
				"sequela_hierarchy_history": map[string]any{
					"sequela_set_version_id": 2, "cause_id": 295, "modelable_entity_id": 1110, "healthstate_id": 2,
				},
			},
		},
	})

	view(t, store, func(v domain.TransactionView) {
		assert.Len(t, v.ListHierarchyRows(2), rowsBefore+2)
		assert.Len(t, v.ListSequelae(), sequelaeBefore+1)
		created, ok := v.FindSequela(64)
		require.True(t, ok)
		assert.Equal(t, "new sequela", created.Name)

		leaf := hierarchyRow(t, v, 2, 61)
		assert.Equal(t, 1, leaf.MostDetailed)
		assert.Equal(t, "new sequela 1", leaf.SequelaName)
		require.NotNil(t, leaf.ModelableEntityID)
		assert.Equal(t, 1109, *leaf.ModelableEntityID)
	})
}

func TestNestedVersionSequelaHierarchy(t *testing.T) {
	store := newStore(t)
	var sequelaeBefore int
	view(t, store, func(v domain.TransactionView) { sequelaeBefore = len(v.ListSequelae()) })

	apply(t, store, map[string]any{
		"sequela_set_version": map[string]any{
			"sequela_set_id":                    1,
			"sequela_set_version_id":            nil,
			"sequela_set_version":               "new version",
			"sequela_set_version_description":   "a new version to use",
			"sequela_set_version_justification": "needed",
			"sequela": []any{
				map[string]any{
					"sequela_id":                61,
					"sequela_name":              "new sequela 1",
					"sequela_hierarchy_history": map[string]any{"cause_id": 295, "modelable_entity_id": 1109, "healthstate_id": 1},
				},
				map[string]any{
					"sequela_id":                nil,
					"sequela_name":              "new sequela 2",
					"sequela_hierarchy_history": map[string]any{"cause_id": 295, "modelable_entity_id": 1110, "healthstate_id": 2},
				},
			},
		},
	})

	view(t, store, func(v domain.TransactionView) {
		var created domain.SequelaSetVersion
		for _, sv := range v.ListSetVersions() {
			if sv.Version == "new version" {
				created = sv
			}
		}
		require.NotZero(t, created.ID)
		rows := v.ListHierarchyRows(created.ID)
		require.Len(t, rows, 2)
		ids := []int{rows[0].SequelaID, rows[1].SequelaID}
		assert.ElementsMatch(t, []int{61, 64}, ids)
		assert.Len(t, v.ListSequelae(), sequelaeBefore+1)
	})
}

func TestInsertReiRowsTopLevelAndNested(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela": []any{map[string]any{
			"sequela_id":   nil,
			"sequela_name": "this is my name",
			"sequela_rei_history": []any{
				map[string]any{"sequela_set_version_id": 1, "rei_id": 82},
			},
		}},
		"sequela_rei_history": []any{
			map[string]any{"sequela_id": 3, "sequela_set_version_id": 1, "rei_id": 86},
			map[string]any{"sequela_id": 3, "sequela_set_version_id": 1, "rei_id": 87},
		},
	})
	view(t, store, func(v domain.TransactionView) {
		reis := v.ListReiRows(1)
		assert.Len(t, reis, 3)
		bySequela := map[int]int{}
		for _, r := range reis {
			bySequela[r.SequelaID]++
		}
		assert.Equal(t, 2, bySequela[3])
		assert.Equal(t, 1, bySequela[64])
	})
}

func TestInsertReiRequiresReiID(t *testing.T) {
	store := newStore(t)
	_, err := applyErr(store, map[string]any{
		"sequela_rei_history": map[string]any{"sequela_id": 3, "sequela_set_version_id": 1},
	})
	require.ErrorIs(t, err, domain.ErrMissingField)
}

func TestDeleteReiRow(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_rei_history": map[string]any{"sequela_id": 3, "sequela_set_version_id": 1, "rei_id": 86},
	})
	report := apply(t, store, map[string]any{
		"sequela_rei_history": map[string]any{"sequela_id": 3, "sequela_set_version_id": 1, "rei_id": 86, "is_delete": true},
	})
	assert.Equal(t, 1, report.Count(string(domain.EntityRei), domain.ActionDelete))
	view(t, store, func(v domain.TransactionView) {
		assert.Empty(t, v.ListReiRows(1))
	})
}

func TestModifySequelaName(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela": []any{map[string]any{"sequela_id": 11, "sequela_name": seed.SequelaName(11) + "NEW"}},
	})
	view(t, store, func(v domain.TransactionView) {
		s, _ := v.FindSequela(11)
		assert.Equal(t, seed.SequelaName(11)+"NEW", s.Name)
		assert.Equal(t, domain.AuditUpdate, s.LastUpdatedAction)
	})
}

func TestModifySetNamesInOneRequest(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_set": []any{
			map[string]any{"sequela_set_id": 1, "sequela_set_name": "set 2SWAPPED"},
			map[string]any{"sequela_set_id": 2, "sequela_set_name": "set 1SWAPPED"},
		},
	})
	view(t, store, func(v domain.TransactionView) {
		s1, _ := v.FindSet(1)
		s2, _ := v.FindSet(2)
		assert.Equal(t, "set 2SWAPPED", s1.Name)
		assert.Equal(t, "set 1SWAPPED", s2.Name)
	})
}

func TestModifyVersionText(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_set_version": map[string]any{
			"sequela_set_id":                    1,
			"sequela_set_version_id":            1,
			"sequela_set_version_description":   "Changing this",
			"sequela_set_version_justification": "BECAUSE",
		},
	})
	view(t, store, func(v domain.TransactionView) {
		sv, _ := v.FindSetVersion(1)
		assert.Equal(t, "Changing this", sv.Description)
		assert.Equal(t, "BECAUSE", sv.Justification)
		assert.Equal(t, "set version 1", sv.Version)
	})
}

func TestModifyHierarchyColumnsKeepsName(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{
		"sequela_hierarchy_history": map[string]any{
			"sequela_set_version_id": 2,
			"sequela_id":             4,
			"sequela_name":           "overwrite name",
			"cause_id":               419,
			"modelable_entity_id":    841,
			"healthstate_id":         1968,
		},
	})
	view(t, store, func(v domain.TransactionView) {
		r := hierarchyRow(t, v, 2, 4)
		require.NotNil(t, r.CauseID)
		require.NotNil(t, r.ModelableEntityID)
		require.NotNil(t, r.HealthstateID)
		assert.Equal(t, 419, *r.CauseID)
		assert.Equal(t, 841, *r.ModelableEntityID)
		assert.Equal(t, 1968, *r.HealthstateID)
		assert.Equal(t, seed.SequelaName(4), r.SequelaName)
	})
}

func TestDeleteSequelaIsSoftAndIdempotent(t *testing.T) {
	store := newStore(t)
	doc := map[string]any{"sequela": []any{
		map[string]any{"sequela_id": 2, "is_delete": true},
		map[string]any{"sequela_id": 4, "is_delete": true},
	}}
	apply(t, store, doc)
	view(t, store, func(v domain.TransactionView) {
		for _, id := range []int{2, 4} {
			s, ok := v.FindSequela(id)
			require.True(t, ok)
			assert.Equal(t, domain.AuditDelete, s.LastUpdatedAction)
			require.NotNil(t, s.ActiveEnd)
		}
	})

	apply(t, store, doc)
	view(t, store, func(v domain.TransactionView) {
		for _, id := range []int{2, 4} {
			s, _ := v.FindSequela(id)
			assert.Equal(t, domain.AuditDelete, s.LastUpdatedAction)
			assert.NotNil(t, s.ActiveEnd)
		}
	})
}

func TestDeleteSetStampsAction(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{"sequela_set": map[string]any{"sequela_set_id": 1, "is_delete": true}})
	view(t, store, func(v domain.TransactionView) {
		s, ok := v.FindSet(1)
		require.True(t, ok)
		assert.Equal(t, domain.AuditDelete, s.LastUpdatedAction)
	})
}

func TestDeleteVersionStampsEndDate(t *testing.T) {
	store := newStore(t)
	apply(t, store, map[string]any{"sequela_set_version": map[string]any{"sequela_set_version_id": 1, "is_delete": true}})
	view(t, store, func(v domain.TransactionView) {
		sv, ok := v.FindSetVersion(1)
		require.True(t, ok)
		assert.Equal(t, domain.AuditDelete, sv.LastUpdatedAction)
		assert.NotNil(t, sv.EndDate)
	})
}

func TestDeleteMostDetailedHierarchyRow(t *testing.T) {
	store := newStore(t)
	var siblings int
	view(t, store, func(v domain.TransactionView) { siblings = len(v.ListChildren(1, 1)) })
	apply(t, store, map[string]any{"sequela_hierarchy_history": []any{
		map[string]any{"sequela_id": 11, "sequela_set_version_id": 1, "is_delete": true},
	}})
	view(t, store, func(v domain.TransactionView) {
		_, ok := v.FindHierarchyRow(domain.HierarchyKey{VersionID: 1, SequelaID: 11})
		assert.False(t, ok)
		assert.Len(t, v.ListChildren(1, 1), siblings-1)
	})
}

func TestDeleteAggregateHierarchyRow(t *testing.T) {
	store := newStore(t)
	var siblings, children int
	view(t, store, func(v domain.TransactionView) {
		siblings = len(v.ListChildren(2, domain.RootSequelaID))
		children = len(v.ListChildren(2, 3))
	})
	apply(t, store, map[string]any{"sequela_hierarchy_history": []any{
		map[string]any{"sequela_set_version_id": 2, "sequela_id": 3, "is_delete": true},
	}})
	view(t, store, func(v domain.TransactionView) {
		_, ok := v.FindHierarchyRow(domain.HierarchyKey{VersionID: 2, SequelaID: 3})
		assert.False(t, ok)
		assert.Len(t, v.ListChildren(2, domain.RootSequelaID), siblings-1+children)
	})
}

func TestDeleteOfMissingRowFallsBackToInsert(t *testing.T) {
	store := newStore(t)
	_, err := applyErr(store, map[string]any{"sequela": map[string]any{"sequela_id": 999, "is_delete": true}})
	require.ErrorIs(t, err, domain.ErrMissingField)

	report := apply(t, store, map[string]any{
		"sequela": map[string]any{"sequela_id": 999, "sequela_name": "late arrival", "is_delete": true},
	})
	assert.Equal(t, 1, report.Count(string(domain.EntitySequela), domain.ActionCreate))
	assert.Zero(t, report.Count("", domain.ActionDelete))
	view(t, store, func(v domain.TransactionView) {
		s, ok := v.FindSequela(999)
		require.True(t, ok)
		assert.Equal(t, "late arrival", s.Name)
		assert.True(t, s.Active())
	})
}

func TestCompositeKeyMissFallsBackToInsert(t *testing.T) {
	store := newStore(t)
	report := apply(t, store, map[string]any{
		"sequela_hierarchy_history": map[string]any{"sequela_set_version_id": 1, "sequela_id": 5, "cause_id": 300},
	})
	assert.Equal(t, 1, report.Count(string(domain.EntityHierarchy), domain.ActionCreate))
	view(t, store, func(v domain.TransactionView) {
		r := hierarchyRow(t, v, 1, 5)
		assert.Equal(t, 1, r.MostDetailed)
	})
}

func TestUnknownTableAbortsRequest(t *testing.T) {
	store := newStore(t)
	_, err := applyErr(store, map[string]any{
		"sequela":   map[string]any{"sequela_id": nil, "sequela_name": "kept?"},
		"not_table": map[string]any{"x": 1},
	})
	var unknown domain.UnknownTableError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "not_table", unknown.Table)
	view(t, store, func(v domain.TransactionView) {
		for _, s := range v.ListSequelae() {
			assert.NotEqual(t, "kept?", s.Name)
		}
	})
}

func TestMissingDependencyKeys(t *testing.T) {
	store := newStore(t)
	_, err := applyErr(store, map[string]any{
		"sequela_hierarchy_history": map[string]any{"sequela_id": 3, "cause_id": 1},
	})
	var missing domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, string(domain.EntityHierarchy), missing.Table)
}

func TestIsNestedKey(t *testing.T) {
	table := hierarchyTable()
	assert.False(t, isNestedKey(table, ColChildren))
	assert.False(t, isNestedKey(table, IsDeleteKey))
	assert.False(t, isNestedKey(table, string(domain.EntitySequela)))
	assert.False(t, isNestedKey(table, "date_inserted"))
	assert.True(t, isNestedKey(table, string(domain.EntityRei)))
}

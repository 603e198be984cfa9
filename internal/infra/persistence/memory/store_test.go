package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"sequelacore/pkg/domain"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func seedVersion(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.EnsureRootSequela(); err != nil {
			return err
		}
		set, err := tx.CreateSet(domain.SequelaSet{Name: "set 1"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateSetVersion(domain.SequelaSetVersion{SetID: set.ID, Version: "v1", RoundID: 5}); err != nil {
			return err
		}
		for _, name := range []string{"a", "b", "c"} {
			if _, err := tx.CreateSequela(domain.Sequela{Name: name}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(nil, WithActor("tester"), WithClock(fixedClock(ts)))
	seedVersion(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{VersionID: 1, SequelaID: 0, ParentID: 0, PathToTopParent: domain.RootPath}); err != nil {
			return err
		}
		if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{VersionID: 1, SequelaID: 1, ParentID: 0, Level: 1, PathToTopParent: "0,1"}); err != nil {
			return err
		}
		for _, id := range []int{3, 2} {
			if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{VersionID: 1, SequelaID: id, ParentID: 1, Level: 2, MostDetailed: 1}); err != nil {
				return err
			}
		}
		view := tx.Snapshot()
		if got := len(view.ListHierarchyRows(1)); got != 4 {
			t.Fatalf("expected 4 rows in snapshot, got %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}

	err = store.View(context.Background(), func(v domain.TransactionView) error {
		kids := v.ListChildren(1, 1)
		if len(kids) != 2 || kids[0].SequelaID != 3 || kids[1].SequelaID != 2 {
			t.Fatalf("expected children [3 2] in attach order, got %+v", kids)
		}
		if roots := v.ListChildren(1, 0); len(roots) != 1 || roots[0].SequelaID != 1 {
			t.Fatalf("root must not list itself as a child: %+v", roots)
		}
		row, ok := v.FindHierarchyRow(domain.HierarchyKey{VersionID: 1, SequelaID: 2})
		if !ok {
			t.Fatalf("expected row 2")
		}
		if row.SetID != 1 || row.InsertedBy != "tester" || !row.DateInserted.Equal(ts) || row.LastUpdatedAction != domain.AuditInsert {
			t.Fatalf("unexpected stamps: %+v", row)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		if len(v.ListSequelae()) != 0 {
			t.Fatalf("expected cleared state")
		}
		return nil
	})
	store.ImportState(snapshot)
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		kids := v.ListChildren(1, 1)
		if len(kids) != 2 || kids[0].SequelaID != 3 {
			t.Fatalf("expected child order restored, got %+v", kids)
		}
		return nil
	})
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
}

func TestStoreRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	seedVersion(t, store)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateSequela(domain.Sequela{Name: "doomed"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = store.View(context.Background(), func(v domain.TransactionView) error {
		for _, s := range v.ListSequelae() {
			if s.Name == "doomed" {
				t.Fatalf("rolled back sequela is visible")
			}
		}
		return nil
	})
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateSequela(domain.Sequela{Name: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.TransactionView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

func TestSequelaIDAllocationAndNames(t *testing.T) {
	store := NewStore(nil)
	seedVersion(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		explicit, err := tx.CreateSequela(domain.Sequela{ID: 40, Name: "forty"})
		if err != nil {
			return err
		}
		if explicit.ID != 40 {
			t.Fatalf("explicit id not honored: %d", explicit.ID)
		}
		next, err := tx.CreateSequela(domain.Sequela{Name: "next"})
		if err != nil {
			return err
		}
		if next.ID != 41 {
			t.Fatalf("expected max+1 = 41, got %d", next.ID)
		}
		if _, err := tx.CreateSequela(domain.Sequela{Name: "next"}); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected duplicate active name conflict, got %v", err)
		}
		if _, err := tx.UpdateSequela(41, func(s *domain.Sequela) error {
			s.Delete(tx.Now())
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.CreateSequela(domain.Sequela{Name: "next"}); err != nil {
			t.Fatalf("name of a soft-deleted sequela should be reusable: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestSoftDeleteKeepsDeleteAction(t *testing.T) {
	store := NewStore(nil)
	seedVersion(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for i := 0; i < 2; i++ {
			s, err := tx.UpdateSequela(1, func(s *domain.Sequela) error {
				s.Delete(tx.Now())
				return nil
			})
			if err != nil {
				return err
			}
			if s.Active() || s.LastUpdatedAction != domain.AuditDelete {
				t.Fatalf("expected soft delete, got %+v", s)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestHierarchyRowParentChangeMovesChildIndex(t *testing.T) {
	store := NewStore(nil)
	seedVersion(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, row := range []domain.HierarchyRow{
			{VersionID: 1, SequelaID: 1, ParentID: 0, Level: 1, PathToTopParent: "0,1"},
			{VersionID: 1, SequelaID: 2, ParentID: 0, Level: 1, PathToTopParent: "0,2"},
			{VersionID: 1, SequelaID: 3, ParentID: 1, Level: 2, MostDetailed: 1},
		} {
			if _, err := tx.CreateHierarchyRow(row); err != nil {
				return err
			}
		}
		updated, err := tx.UpdateHierarchyRow(domain.HierarchyKey{VersionID: 1, SequelaID: 3}, func(h *domain.HierarchyRow) error {
			h.ParentID = 2
			return nil
		})
		if err != nil {
			return err
		}
		if updated.LastUpdatedAction != domain.AuditUpdate {
			t.Fatalf("expected UPDATE action, got %q", updated.LastUpdatedAction)
		}
		if len(tx.ListChildren(1, 1)) != 0 || len(tx.ListChildren(1, 2)) != 1 {
			t.Fatalf("child index not moved")
		}
		if err := tx.DeleteHierarchyRow(domain.HierarchyKey{VersionID: 1, SequelaID: 3}); err != nil {
			return err
		}
		if len(tx.ListChildren(1, 2)) != 0 {
			t.Fatalf("deleted row still indexed")
		}
		err = tx.DeleteHierarchyRow(domain.HierarchyKey{VersionID: 1, SequelaID: 3})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestReferenceChecks(t *testing.T) {
	store := NewStore(nil)
	seedVersion(t, store)
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateSetVersion(domain.SequelaSetVersion{SetID: 99, Version: "x"}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing set, got %v", err)
		}
		if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{VersionID: 9, SequelaID: 1}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing version, got %v", err)
		}
		if _, err := tx.CreateReiRow(domain.ReiRow{VersionID: 1, SequelaID: 77, ReiID: 1}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing sequela, got %v", err)
		}
		if _, err := tx.CreateReiRow(domain.ReiRow{VersionID: 1, SequelaID: 1, ReiID: 1}); err != nil {
			t.Fatalf("create rei: %v", err)
		}
		if _, err := tx.CreateReiRow(domain.ReiRow{VersionID: 1, SequelaID: 1, ReiID: 1}); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected duplicate rei conflict, got %v", err)
		}
		if _, err := tx.CreateActiveVersion(domain.ActiveVersion{SetID: 1, RoundID: 5, VersionID: 3}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected missing version for activation, got %v", err)
		}
		return nil
	})
}

func TestCommitHookSeesCandidateAndCanAbort(t *testing.T) {
	ctx := context.Background()
	fail := errors.New("disk full")
	var seen []Snapshot
	var hookErr error
	store := NewStore(nil, WithCommitHook(func(_ context.Context, snap Snapshot) error {
		seen = append(seen, snap)
		return hookErr
	}))

	hookErr = fail
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSet(domain.SequelaSet{Name: "ghost"})
		return err
	})
	if !errors.Is(err, fail) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(seen) != 1 || len(seen[0].Sets) != 1 {
		t.Fatalf("hook should receive the candidate state with one set, got %+v", seen)
	}
	if n := len(store.ExportState().Sets); n != 0 {
		t.Fatalf("aborted commit left %d sets visible", n)
	}

	hookErr = nil
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSet(domain.SequelaSet{Name: "kept"})
		return err
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if n := len(store.ExportState().Sets); n != 1 {
		t.Fatalf("expected 1 set after commit, got %d", n)
	}
}

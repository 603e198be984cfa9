// Package activation checks a set version for structural completeness and
// points the (set, round) activation record at it.
package activation

import (
	"fmt"
	"sort"

	"sequelacore/pkg/domain"
)

// Validate fails with StructuralValidationError when a sequela carries rei
// rows in the version but has no hierarchy row there.
func Validate(view domain.TransactionView, versionID int) error {
	if _, ok := view.FindSetVersion(versionID); !ok {
		return domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", versionID)}
	}
	inHierarchy := make(map[int]struct{})
	for _, row := range view.ListHierarchyRows(versionID) {
		inHierarchy[row.SequelaID] = struct{}{}
	}
	seen := make(map[int]struct{})
	var missing []int
	for _, rei := range view.ListReiRows(versionID) {
		if _, ok := inHierarchy[rei.SequelaID]; ok {
			continue
		}
		if _, dup := seen[rei.SequelaID]; dup {
			continue
		}
		seen[rei.SequelaID] = struct{}{}
		missing = append(missing, rei.SequelaID)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Ints(missing)
	return domain.StructuralValidationError{VersionID: versionID, Missing: missing}
}

// Activate upserts the activation record of the version's set for roundID.
// Validation is the caller's responsibility.
func Activate(tx domain.Transaction, versionID, roundID int) (domain.ActiveVersion, error) {
	version, ok := tx.FindSetVersion(versionID)
	if !ok {
		return domain.ActiveVersion{}, domain.NotFoundError{Table: string(domain.EntitySetVersion), Key: fmt.Sprintf("sequela_set_version_id=%d", versionID)}
	}
	key := domain.ActiveKey{SetID: version.SetID, RoundID: roundID}
	if _, exists := tx.FindActiveVersion(key); !exists {
		return tx.CreateActiveVersion(domain.ActiveVersion{SetID: key.SetID, RoundID: key.RoundID, VersionID: version.ID})
	}
	return tx.UpdateActiveVersion(key, func(a *domain.ActiveVersion) error {
		a.VersionID = version.ID
		return nil
	})
}

// ValidateAndActivate runs Validate when validate is set and then Activate.
func ValidateAndActivate(tx domain.Transaction, versionID, roundID int, validate bool) (domain.ActiveVersion, error) {
	if validate {
		if err := Validate(tx, versionID); err != nil {
			return domain.ActiveVersion{}, err
		}
	}
	return Activate(tx, versionID, roundID)
}

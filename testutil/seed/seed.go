// Package seed loads small, fully specified sequela datasets into a store for
// tests across packages.
package seed

import (
	"context"
	"fmt"

	"sequelacore/pkg/domain"
)

// Aggregate is a level-1 sequela and its level-2 children. An aggregate with
// no children is loaded as a most-detailed row.
type Aggregate struct {
	ID       int
	Children []int
}

// Version lists the level-1 rows of one set version.
type Version struct {
	ID     int
	Level1 []Aggregate
}

// Set groups versions.
type Set struct {
	ID       int
	Versions []Version
}

// Dataset is an ordered list of sets.
type Dataset []Set

// OneSetTwoVersions is a single set whose second version regroups sequela 24.
func OneSetTwoVersions() Dataset {
	return Dataset{
		{ID: 1, Versions: []Version{
			{ID: 1, Level1: []Aggregate{{1, []int{11, 12, 13}}, {2, []int{21, 22, 23}}}},
			{ID: 2, Level1: []Aggregate{{1, []int{11, 12, 13}}, {2, []int{21, 22, 24}}, {3, nil}}},
		}},
	}
}

// TwoSetsFourVersions is the default multi-set dataset.
func TwoSetsFourVersions() Dataset {
	return Dataset{
		{ID: 1, Versions: []Version{
			{ID: 1, Level1: []Aggregate{{1, []int{11, 12, 13, 14}}, {2, []int{21, 22, 23}}, {3, nil}, {4, nil}}},
			{ID: 2, Level1: []Aggregate{{1, []int{11, 12, 13}}, {2, []int{21, 22, 23}}, {3, []int{31, 32}}, {4, nil}}},
		}},
		{ID: 2, Versions: []Version{
			{ID: 3, Level1: []Aggregate{{1, []int{11, 12, 13}}, {3, []int{33, 34}}, {5, nil}, {6, []int{61, 62, 63}}}},
			{ID: 4, Level1: []Aggregate{{1, []int{11, 12, 13}}, {3, []int{33, 34}}, {5, nil}, {6, []int{61, 62, 63}}, {7, nil}}},
		}},
	}
}

// SequelaName is the name given to generated sequelae.
func SequelaName(id int) string { return fmt.Sprintf("test sequela %d", id) }

// Load writes the dataset in one transaction. Every version receives a root
// row; level-1 rows carry "0,<id>" paths and level-2 rows carry none.
func Load(ctx context.Context, store domain.PersistentStore, data Dataset, roundID int) error {
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return LoadTx(tx, data, roundID)
	})
	return err
}

// LoadTx writes the dataset inside an existing transaction.
func LoadTx(tx domain.Transaction, data Dataset, roundID int) error {
	root, err := tx.EnsureRootSequela()
	if err != nil {
		return err
	}
	sequela := func(id int) (domain.Sequela, error) {
		if s, ok := tx.FindSequela(id); ok {
			return s, nil
		}
		return tx.CreateSequela(domain.Sequela{ID: id, Name: SequelaName(id)})
	}
	for _, set := range data {
		if _, err := tx.CreateSet(domain.SequelaSet{ID: set.ID, Name: fmt.Sprintf("set %d", set.ID)}); err != nil {
			return err
		}
		for _, v := range set.Versions {
			if _, err := tx.CreateSetVersion(domain.SequelaSetVersion{
				ID:          v.ID,
				SetID:       set.ID,
				Version:     fmt.Sprintf("set version %d", v.ID),
				Description: fmt.Sprintf("set %d version %d", set.ID, v.ID),
				RoundID:     roundID,
			}); err != nil {
				return err
			}
			if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{
				VersionID: v.ID, SetID: set.ID, SequelaID: root.ID,
				Level: 0, MostDetailed: 0, ParentID: root.ID,
				PathToTopParent: domain.RootPath, SequelaName: root.Name,
			}); err != nil {
				return err
			}
			for _, agg := range v.Level1 {
				s, err := sequela(agg.ID)
				if err != nil {
					return err
				}
				mostDetailed := 0
				if len(agg.Children) == 0 {
					mostDetailed = 1
				}
				if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{
					VersionID: v.ID, SetID: set.ID, SequelaID: s.ID,
					Level: 1, MostDetailed: mostDetailed, ParentID: root.ID,
					PathToTopParent: domain.JoinPath(domain.RootPath, s.ID), SequelaName: s.Name,
				}); err != nil {
					return err
				}
				for _, childID := range agg.Children {
					c, err := sequela(childID)
					if err != nil {
						return err
					}
					if _, err := tx.CreateHierarchyRow(domain.HierarchyRow{
						VersionID: v.ID, SetID: set.ID, SequelaID: c.ID,
						Level: 2, MostDetailed: 1, ParentID: s.ID, SequelaName: c.Name,
					}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

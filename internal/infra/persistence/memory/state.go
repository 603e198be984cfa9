package memory

import (
	"sort"
	"time"

	"sequelacore/pkg/domain"
)

// versionArena holds the hierarchy rows of one version with an incrementally
// maintained child index. The root row is never listed as its own child.
type versionArena struct {
	rows     map[int]HierarchyRow
	children map[int][]int
}

func newVersionArena() *versionArena {
	return &versionArena{
		rows:     make(map[int]HierarchyRow),
		children: make(map[int][]int),
	}
}

func (a *versionArena) clone() *versionArena {
	cp := &versionArena{
		rows:     make(map[int]HierarchyRow, len(a.rows)),
		children: make(map[int][]int, len(a.children)),
	}
	for k, v := range a.rows {
		cp.rows[k] = cloneHierarchyRow(v)
	}
	for k, v := range a.children {
		cp.children[k] = append([]int(nil), v...)
	}
	return cp
}

func (a *versionArena) attach(parentID, childID int) {
	if parentID == childID {
		return
	}
	a.children[parentID] = append(a.children[parentID], childID)
}

func (a *versionArena) detach(parentID, childID int) {
	kids := a.children[parentID]
	for i, id := range kids {
		if id == childID {
			kids = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	if len(kids) == 0 {
		delete(a.children, parentID)
		return
	}
	a.children[parentID] = kids
}

// orderedRows returns rows so that every parent's children appear in attach
// order; rows not listed under any parent come first.
func (a *versionArena) orderedRows() []HierarchyRow {
	listed := make(map[int]struct{}, len(a.rows))
	for _, kids := range a.children {
		for _, id := range kids {
			listed[id] = struct{}{}
		}
	}
	out := make([]HierarchyRow, 0, len(a.rows))
	for _, id := range sortedKeys(a.rows) {
		if _, ok := listed[id]; !ok {
			out = append(out, cloneHierarchyRow(a.rows[id]))
		}
	}
	for _, parent := range sortedKeys(a.children) {
		for _, id := range a.children[parent] {
			if row, ok := a.rows[id]; ok {
				out = append(out, cloneHierarchyRow(row))
			}
		}
	}
	return out
}

type memoryState struct {
	sequelae  map[int]Sequela
	sets      map[int]SequelaSet
	versions  map[int]SequelaSetVersion
	hierarchy map[int]*versionArena
	rei       map[domain.ReiKey]ReiRow
	active    map[domain.ActiveKey]ActiveVersion
}

func newMemoryState() memoryState {
	return memoryState{
		sequelae:  make(map[int]Sequela),
		sets:      make(map[int]SequelaSet),
		versions:  make(map[int]SequelaSetVersion),
		hierarchy: make(map[int]*versionArena),
		rei:       make(map[domain.ReiKey]ReiRow),
		active:    make(map[domain.ActiveKey]ActiveVersion),
	}
}

func (s memoryState) clone() memoryState {
	cp := newMemoryState()
	for k, v := range s.sequelae {
		cp.sequelae[k] = cloneSequela(v)
	}
	for k, v := range s.sets {
		cp.sets[k] = v
	}
	for k, v := range s.versions {
		cp.versions[k] = cloneSetVersion(v)
	}
	for k, v := range s.hierarchy {
		cp.hierarchy[k] = v.clone()
	}
	for k, v := range s.rei {
		cp.rei[k] = v
	}
	for k, v := range s.active {
		cp.active[k] = v
	}
	return cp
}

func (s memoryState) arena(versionID int) *versionArena {
	a, ok := s.hierarchy[versionID]
	if !ok {
		a = newVersionArena()
		s.hierarchy[versionID] = a
	}
	return a
}

// Snapshot captures a point-in-time clone of the store state. Hierarchy rows
// are ordered so that reimporting preserves each parent's child order.
type Snapshot struct {
	Sequelae       []Sequela           `json:"sequelae"`
	Sets           []SequelaSet        `json:"sets"`
	Versions       []SequelaSetVersion `json:"versions"`
	Hierarchy      []HierarchyRow      `json:"hierarchy"`
	Rei            []ReiRow            `json:"rei"`
	ActiveVersions []ActiveVersion     `json:"active_versions"`
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	v := newTransactionView(&state)
	s := Snapshot{
		Sequelae:       v.ListSequelae(),
		Sets:           v.ListSets(),
		Versions:       v.ListSetVersions(),
		ActiveVersions: v.ListActiveVersions(),
	}
	for _, versionID := range sortedKeys(state.hierarchy) {
		s.Hierarchy = append(s.Hierarchy, state.hierarchy[versionID].orderedRows()...)
		s.Rei = append(s.Rei, v.ListReiRows(versionID)...)
	}
	// rei rows may exist for versions without hierarchy rows
	for _, row := range sortedReiRows(state.rei) {
		if _, ok := state.hierarchy[row.VersionID]; !ok {
			s.Rei = append(s.Rei, row)
		}
	}
	return s
}

func memoryStateFromSnapshot(snapshot Snapshot) memoryState {
	state := newMemoryState()
	for _, v := range snapshot.Sequelae {
		state.sequelae[v.ID] = cloneSequela(v)
	}
	for _, v := range snapshot.Sets {
		state.sets[v.ID] = v
	}
	for _, v := range snapshot.Versions {
		state.versions[v.ID] = cloneSetVersion(v)
	}
	for _, row := range snapshot.Hierarchy {
		a := state.arena(row.VersionID)
		a.rows[row.SequelaID] = cloneHierarchyRow(row)
		a.attach(row.ParentID, row.SequelaID)
	}
	for _, v := range snapshot.Rei {
		state.rei[v.Key()] = v
	}
	for _, v := range snapshot.ActiveVersions {
		state.active[v.Key()] = v
	}
	return state
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneSequela(s Sequela) Sequela {
	cp := s
	cp.ActiveEnd = cloneTime(s.ActiveEnd)
	return cp
}

func cloneSetVersion(v SequelaSetVersion) SequelaSetVersion {
	cp := v
	cp.EndDate = cloneTime(v.EndDate)
	return cp
}

func cloneHierarchyRow(h HierarchyRow) HierarchyRow {
	cp := h
	cp.ModelableEntityID = cloneInt(h.ModelableEntityID)
	cp.CauseID = cloneInt(h.CauseID)
	cp.HealthstateID = cloneInt(h.HealthstateID)
	cp.EndDate = cloneTime(h.EndDate)
	return cp
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedReiRows(m map[domain.ReiKey]ReiRow) []ReiRow {
	out := make([]ReiRow, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VersionID != b.VersionID {
			return a.VersionID < b.VersionID
		}
		if a.SequelaID != b.SequelaID {
			return a.SequelaID < b.SequelaID
		}
		return a.ReiID < b.ReiID
	})
	return out
}

func maxKey[V any](m map[int]V) int {
	highest := 0
	for k := range m {
		if k > highest {
			highest = k
		}
	}
	return highest
}

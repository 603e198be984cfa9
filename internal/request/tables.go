package request

import (
	"fmt"

	"sequelacore/internal/hierarchy"
	"sequelacore/pkg/domain"
)

// Column names accepted in row descriptors.
const (
	ColSequelaID            = "sequela_id"
	ColSequelaName          = "sequela_name"
	ColSetID                = "sequela_set_id"
	ColSetName              = "sequela_set_name"
	ColSetDescription       = "sequela_set_description"
	ColVersionID            = "sequela_set_version_id"
	ColVersion              = "sequela_set_version"
	ColVersionDescription   = "sequela_set_version_description"
	ColVersionJustification = "sequela_set_version_justification"
	ColRoundID              = "gbd_round_id"
	ColCauseID              = "cause_id"
	ColModelableEntityID    = "modelable_entity_id"
	ColHealthstateID        = "healthstate_id"
	ColReiID                = "rei_id"
	ColChildren             = "children"
)

var auditColumns = []string{"date_inserted", "inserted_by", "last_updated", "last_updated_by", "last_updated_action"}

// tableRank orders nested tables so parents precede dependents. Plain columns rank first.
func tableRank(key string) int {
	switch domain.EntityType(key) {
	case domain.EntitySet:
		return 1
	case domain.EntitySetVersion:
		return 2
	case domain.EntitySequela:
		return 3
	case domain.EntityHierarchy:
		return 4
	case domain.EntityRei:
		return 5
	default:
		return 0
	}
}

// tableMeta carries the static column contract shared by every handler.
type tableMeta struct {
	name        string
	primaryKeys []string
	columns     []string
	required    []string
	modifiable  []string
	deps        []string
}

func (m tableMeta) Name() string             { return m.name }
func (m tableMeta) PrimaryKeys() []string    { return m.primaryKeys }
func (m tableMeta) Columns() []string        { return m.columns }
func (m tableMeta) RequiredInsert() []string { return m.required }
func (m tableMeta) Modifiable() []string     { return m.modifiable }
func (m tableMeta) Dependencies() []string   { return m.deps }

func withAudit(cols ...string) []string {
	return append(cols, auditColumns...)
}

func keyInt(row *Object, table, col string) (int, error) {
	n, ok, err := row.Int(col)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.MissingFieldError{Table: table, Fields: []string{col}}
	}
	return n, nil
}

// changedString returns the descriptor value for col when it is set and differs from current.
func changedString(row *Object, col, current string) (string, bool) {
	v, ok := row.String(col)
	if !ok || v == current {
		return "", false
	}
	return v, true
}

func changedInt(row *Object, col string, current *int) (*int, bool, error) {
	v, err := row.IntPtr(col)
	if err != nil || v == nil {
		return nil, false, err
	}
	if current != nil && *current == *v {
		return nil, false, nil
	}
	return v, true, nil
}

// sequela

type sequelae struct{ tableMeta }

func sequelaTable() Table {
	return sequelae{tableMeta{
		name:        string(domain.EntitySequela),
		primaryKeys: []string{ColSequelaID},
		columns:     withAudit(ColSequelaID, ColSequelaName, "active_start", "active_end"),
		required:    []string{ColSequelaName},
		modifiable:  []string{ColSequelaName},
	}}
}

func (t sequelae) Get(tx domain.TransactionView, row *Object) (any, error) {
	id, err := keyInt(row, t.name, ColSequelaID)
	if err != nil {
		return nil, err
	}
	s, ok := tx.FindSequela(id)
	if !ok {
		return nil, domain.NotFoundError{Table: t.name, Key: fmt.Sprintf("%s=%d", ColSequelaID, id)}
	}
	return s, nil
}

func (t sequelae) Insert(c *Call) (any, error) {
	if err := c.RequireInsert(); err != nil {
		return nil, err
	}
	id, _, err := c.Row.Int(ColSequelaID)
	if err != nil {
		return nil, err
	}
	name, _ := c.Row.String(ColSequelaName)
	return c.Tx.CreateSequela(domain.Sequela{ID: id, Name: name})
}

func (t sequelae) Modify(c *Call, current any) (any, error) {
	s := current.(domain.Sequela)
	name, changed := changedString(c.Row, ColSequelaName, s.Name)
	if !changed {
		return s, nil
	}
	return c.Tx.UpdateSequela(s.ID, func(s *domain.Sequela) error {
		s.Name = name
		return nil
	})
}

func (t sequelae) Delete(c *Call, current any) (any, error) {
	s := current.(domain.Sequela)
	return c.Tx.UpdateSequela(s.ID, func(s *domain.Sequela) error {
		s.Delete(c.Tx.Now())
		return nil
	})
}

// sequela_set

type sets struct{ tableMeta }

func setTable() Table {
	return sets{tableMeta{
		name:        string(domain.EntitySet),
		primaryKeys: []string{ColSetID},
		columns:     withAudit(ColSetID, ColSetName, ColSetDescription),
		modifiable:  []string{ColSetName, ColSetDescription},
	}}
}

func (t sets) Get(tx domain.TransactionView, row *Object) (any, error) {
	id, err := keyInt(row, t.name, ColSetID)
	if err != nil {
		return nil, err
	}
	s, ok := tx.FindSet(id)
	if !ok {
		return nil, domain.NotFoundError{Table: t.name, Key: fmt.Sprintf("%s=%d", ColSetID, id)}
	}
	return s, nil
}

func (t sets) Insert(c *Call) (any, error) {
	id, _, err := c.Row.Int(ColSetID)
	if err != nil {
		return nil, err
	}
	name, _ := c.Row.String(ColSetName)
	description, _ := c.Row.String(ColSetDescription)
	return c.Tx.CreateSet(domain.SequelaSet{ID: id, Name: name, Description: description})
}

func (t sets) Modify(c *Call, current any) (any, error) {
	set := current.(domain.SequelaSet)
	name, nameChanged := changedString(c.Row, ColSetName, set.Name)
	description, descChanged := changedString(c.Row, ColSetDescription, set.Description)
	if !nameChanged && !descChanged {
		return set, nil
	}
	return c.Tx.UpdateSet(set.ID, func(s *domain.SequelaSet) error {
		if nameChanged {
			s.Name = name
		}
		if descChanged {
			s.Description = description
		}
		return nil
	})
}

func (t sets) Delete(c *Call, current any) (any, error) {
	set := current.(domain.SequelaSet)
	return c.Tx.UpdateSet(set.ID, func(s *domain.SequelaSet) error {
		s.Delete()
		return nil
	})
}

// sequela_set_version

type versions struct{ tableMeta }

func versionTable() Table {
	return versions{tableMeta{
		name:        string(domain.EntitySetVersion),
		primaryKeys: []string{ColVersionID},
		columns: withAudit(ColVersionID, ColSetID, ColVersion, ColVersionDescription,
			ColVersionJustification, ColRoundID, "start_date", "end_date"),
		required:   []string{ColVersion},
		modifiable: []string{ColVersion, ColVersionDescription, ColVersionJustification},
		deps:       []string{string(domain.EntitySet)},
	}}
}

func (t versions) Get(tx domain.TransactionView, row *Object) (any, error) {
	id, err := keyInt(row, t.name, ColVersionID)
	if err != nil {
		return nil, err
	}
	v, ok := tx.FindSetVersion(id)
	if !ok {
		return nil, domain.NotFoundError{Table: t.name, Key: fmt.Sprintf("%s=%d", ColVersionID, id)}
	}
	return v, nil
}

func (t versions) Insert(c *Call) (any, error) {
	if err := c.RequireInsert(); err != nil {
		return nil, err
	}
	set, err := c.Set()
	if err != nil {
		return nil, err
	}
	id, _, err := c.Row.Int(ColVersionID)
	if err != nil {
		return nil, err
	}
	round, ok, err := c.Row.Int(ColRoundID)
	if err != nil {
		return nil, err
	}
	if !ok {
		round = c.Options().DefaultRoundID
	}
	label, _ := c.Row.String(ColVersion)
	description, _ := c.Row.String(ColVersionDescription)
	justification, _ := c.Row.String(ColVersionJustification)
	return c.Tx.CreateSetVersion(domain.SequelaSetVersion{
		ID:            id,
		SetID:         set.ID,
		Version:       label,
		Description:   description,
		Justification: justification,
		RoundID:       round,
	})
}

func (t versions) Modify(c *Call, current any) (any, error) {
	v := current.(domain.SequelaSetVersion)
	label, labelChanged := changedString(c.Row, ColVersion, v.Version)
	description, descChanged := changedString(c.Row, ColVersionDescription, v.Description)
	justification, justChanged := changedString(c.Row, ColVersionJustification, v.Justification)
	if !labelChanged && !descChanged && !justChanged {
		return v, nil
	}
	return c.Tx.UpdateSetVersion(v.ID, func(sv *domain.SequelaSetVersion) error {
		if labelChanged {
			sv.Version = label
		}
		if descChanged {
			sv.Description = description
		}
		if justChanged {
			sv.Justification = justification
		}
		return nil
	})
}

func (t versions) Delete(c *Call, current any) (any, error) {
	v := current.(domain.SequelaSetVersion)
	return c.Tx.UpdateSetVersion(v.ID, func(sv *domain.SequelaSetVersion) error {
		sv.Delete(c.Tx.Now())
		return nil
	})
}

// sequela_hierarchy_history

type hierarchies struct{ tableMeta }

func hierarchyTable() Table {
	return hierarchies{tableMeta{
		name:        string(domain.EntityHierarchy),
		primaryKeys: []string{ColVersionID, ColSequelaID},
		columns: withAudit(ColVersionID, ColSetID, ColSequelaID, "level", "most_detailed",
			"parent_id", "path_to_top_parent", "sort_order", ColSequelaName,
			ColModelableEntityID, ColCauseID, ColHealthstateID, "start_date", "end_date"),
		required: []string{ColCauseID},
		// sequela_name is copied from the sequela at insert and never modified.
		modifiable: []string{ColCauseID, ColHealthstateID, ColModelableEntityID, ColChildren},
		deps:       []string{string(domain.EntitySequela), string(domain.EntitySetVersion)},
	}}
}

func (t hierarchies) key(row *Object) (domain.HierarchyKey, error) {
	versionID, err := keyInt(row, t.name, ColVersionID)
	if err != nil {
		return domain.HierarchyKey{}, err
	}
	sequelaID, err := keyInt(row, t.name, ColSequelaID)
	if err != nil {
		return domain.HierarchyKey{}, err
	}
	return domain.HierarchyKey{VersionID: versionID, SequelaID: sequelaID}, nil
}

func (t hierarchies) Get(tx domain.TransactionView, row *Object) (any, error) {
	key, err := t.key(row)
	if err != nil {
		return nil, err
	}
	h, ok := tx.FindHierarchyRow(key)
	if !ok {
		return nil, domain.NotFoundError{Table: t.name, Key: key.String()}
	}
	return h, nil
}

func (t hierarchies) attributes(row *Object) (hierarchy.Attributes, error) {
	var attrs hierarchy.Attributes
	var err error
	if attrs.CauseID, err = row.IntPtr(ColCauseID); err != nil {
		return attrs, err
	}
	if attrs.ModelableEntityID, err = row.IntPtr(ColModelableEntityID); err != nil {
		return attrs, err
	}
	if attrs.HealthstateID, err = row.IntPtr(ColHealthstateID); err != nil {
		return attrs, err
	}
	return attrs, nil
}

func (t hierarchies) Insert(c *Call) (any, error) {
	if err := c.RequireInsert(); err != nil {
		return nil, err
	}
	version, err := c.SetVersion()
	if err != nil {
		return nil, err
	}
	sequela, err := c.Sequela()
	if err != nil {
		return nil, err
	}
	attrs, err := t.attributes(c.Row)
	if err != nil {
		return nil, err
	}
	children, err := c.Row.IntList(ColChildren)
	if err != nil {
		return nil, err
	}
	engine := hierarchy.NewEngine(c.Tx, version.ID)
	if len(children) > 0 {
		return engine.InsertAggregate(sequela, children, attrs)
	}
	return engine.InsertLeaf(sequela, attrs)
}

func (t hierarchies) Modify(c *Call, current any) (any, error) {
	h := current.(domain.HierarchyRow)
	children, err := c.Row.IntList(ColChildren)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 {
		version, err := c.SetVersion()
		if err != nil {
			return nil, err
		}
		engine := hierarchy.NewEngine(c.Tx, version.ID)
		if err := engine.Reparent(h.SequelaID, children, true); err != nil {
			return nil, err
		}
		if refreshed, ok := engine.Find(h.SequelaID); ok {
			h = refreshed
		}
	}

	cause, causeChanged, err := changedInt(c.Row, ColCauseID, h.CauseID)
	if err != nil {
		return nil, err
	}
	me, meChanged, err := changedInt(c.Row, ColModelableEntityID, h.ModelableEntityID)
	if err != nil {
		return nil, err
	}
	hs, hsChanged, err := changedInt(c.Row, ColHealthstateID, h.HealthstateID)
	if err != nil {
		return nil, err
	}
	if !causeChanged && !meChanged && !hsChanged {
		return h, nil
	}
	return c.Tx.UpdateHierarchyRow(h.Key(), func(row *domain.HierarchyRow) error {
		if causeChanged {
			row.CauseID = cause
		}
		if meChanged {
			row.ModelableEntityID = me
		}
		if hsChanged {
			row.HealthstateID = hs
		}
		return nil
	})
}

func (t hierarchies) Delete(c *Call, current any) (any, error) {
	h := current.(domain.HierarchyRow)
	version, err := c.SetVersion()
	if err != nil {
		return nil, err
	}
	if err := hierarchy.NewEngine(c.Tx, version.ID).DeleteRow(h.SequelaID); err != nil {
		return nil, err
	}
	return h, nil
}

// sequela_rei_history

type reis struct{ tableMeta }

func reiTable() Table {
	return reis{tableMeta{
		name:        string(domain.EntityRei),
		primaryKeys: []string{ColVersionID, ColSequelaID, ColReiID},
		columns:     withAudit(ColVersionID, ColSequelaID, ColReiID),
		required:    []string{ColReiID},
		deps:        []string{string(domain.EntitySequela), string(domain.EntitySetVersion)},
	}}
}

func (t reis) Get(tx domain.TransactionView, row *Object) (any, error) {
	var key domain.ReiKey
	var err error
	if key.VersionID, err = keyInt(row, t.name, ColVersionID); err != nil {
		return nil, err
	}
	if key.SequelaID, err = keyInt(row, t.name, ColSequelaID); err != nil {
		return nil, err
	}
	if key.ReiID, err = keyInt(row, t.name, ColReiID); err != nil {
		return nil, err
	}
	r, ok := tx.FindReiRow(key)
	if !ok {
		return nil, domain.NotFoundError{Table: t.name, Key: key.String()}
	}
	return r, nil
}

func (t reis) Insert(c *Call) (any, error) {
	if err := c.RequireInsert(); err != nil {
		return nil, err
	}
	version, err := c.SetVersion()
	if err != nil {
		return nil, err
	}
	sequela, err := c.Sequela()
	if err != nil {
		return nil, err
	}
	reiID, err := keyInt(c.Row, t.name, ColReiID)
	if err != nil {
		return nil, err
	}
	return c.Tx.CreateReiRow(domain.ReiRow{VersionID: version.ID, SequelaID: sequela.ID, ReiID: reiID})
}

// Modify is a no-op: every stored column is part of the key.
func (t reis) Modify(_ *Call, current any) (any, error) {
	return current, nil
}

func (t reis) Delete(c *Call, current any) (any, error) {
	r := current.(domain.ReiRow)
	if err := c.Tx.DeleteReiRow(r.Key()); err != nil {
		return nil, err
	}
	return r, nil
}

package request

import (
	"fmt"

	"sequelacore/pkg/domain"
)

// IsDeleteKey marks a row descriptor as a deletion of the addressed row.
const IsDeleteKey = "is_delete"

// Table is the contract a request table exposes to the resolver.
type Table interface {
	Name() string
	// PrimaryKeys are the columns that address an existing row.
	PrimaryKeys() []string
	// Columns lists every stored column of the table.
	Columns() []string
	// RequiredInsert lists columns that must be present to insert a row.
	RequiredInsert() []string
	// Modifiable lists the descriptor keys honored when modifying a row.
	Modifiable() []string
	// Dependencies names the tables whose resolved rows the handler needs.
	Dependencies() []string

	Get(tx domain.TransactionView, row *Object) (any, error)
	Insert(c *Call) (any, error)
	Modify(c *Call, current any) (any, error)
	Delete(c *Call, current any) (any, error)
}

// Options carries process-wide values injected into table handlers.
type Options struct {
	// DefaultRoundID is used when a version insert omits gbd_round_id.
	DefaultRoundID int
}

// Registry maps table names to handlers.
type Registry struct {
	tables map[string]Table
	order  []string
	opts   Options
}

// NewRegistry builds a registry over the given tables.
func NewRegistry(opts Options, tables ...Table) *Registry {
	r := &Registry{tables: make(map[string]Table), opts: opts}
	for _, t := range tables {
		r.Register(t)
	}
	return r
}

// DefaultRegistry returns the registry of every sequela table.
func DefaultRegistry(opts Options) *Registry {
	return NewRegistry(opts,
		setTable(),
		versionTable(),
		sequelaTable(),
		hierarchyTable(),
		reiTable(),
	)
}

// Register adds or replaces a table handler.
func (r *Registry) Register(t Table) {
	if _, exists := r.tables[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tables[t.Name()] = t
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return nil, domain.UnknownTableError{Table: name}
	}
	return t, nil
}

// Names returns registered table names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Options returns the injected options.
func (r *Registry) Options() Options { return r.opts }

// Call carries one row descriptor through a table handler.
type Call struct {
	Tx  domain.Transaction
	Row *Object

	table    Table
	registry *Registry
	provided map[string]any
}

// Options returns the registry options.
func (c *Call) Options() Options { return c.registry.opts }

// RequireInsert fails with MissingFieldError when a required insert column is absent.
func (c *Call) RequireInsert() error {
	var missing []string
	for _, col := range c.table.RequiredInsert() {
		if !c.Row.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return domain.MissingFieldError{Table: c.table.Name(), Fields: missing}
	}
	return nil
}

// Dependency returns the row resolved earlier in the request for name, or
// looks it up by the dependency's primary key columns in this descriptor.
func (c *Call) Dependency(name string) (any, error) {
	if v, ok := c.provided[name]; ok && v != nil {
		return v, nil
	}
	dep, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, pk := range dep.PrimaryKeys() {
		if !c.Row.Present(pk) {
			missing = append(missing, pk)
		}
	}
	if len(missing) > 0 {
		return nil, domain.MissingFieldError{Table: c.table.Name(), Fields: missing}
	}
	return dep.Get(c.Tx, c.Row)
}

// Set returns the sequela_set dependency.
func (c *Call) Set() (domain.SequelaSet, error) {
	v, err := c.Dependency(string(domain.EntitySet))
	if err != nil {
		return domain.SequelaSet{}, err
	}
	set, ok := v.(domain.SequelaSet)
	if !ok {
		return domain.SequelaSet{}, fmt.Errorf("dependency %s has type %T", domain.EntitySet, v)
	}
	return set, nil
}

// SetVersion returns the sequela_set_version dependency.
func (c *Call) SetVersion() (domain.SequelaSetVersion, error) {
	v, err := c.Dependency(string(domain.EntitySetVersion))
	if err != nil {
		return domain.SequelaSetVersion{}, err
	}
	version, ok := v.(domain.SequelaSetVersion)
	if !ok {
		return domain.SequelaSetVersion{}, fmt.Errorf("dependency %s has type %T", domain.EntitySetVersion, v)
	}
	return version, nil
}

// Sequela returns the sequela dependency.
func (c *Call) Sequela() (domain.Sequela, error) {
	v, err := c.Dependency(string(domain.EntitySequela))
	if err != nil {
		return domain.Sequela{}, err
	}
	s, ok := v.(domain.Sequela)
	if !ok {
		return domain.Sequela{}, fmt.Errorf("dependency %s has type %T", domain.EntitySequela, v)
	}
	return s, nil
}

package request

import (
	"errors"
	"fmt"

	"sequelacore/pkg/domain"
)

// Operation records one row-level write performed while resolving a request.
type Operation struct {
	Table  string
	Action domain.Action
	Row    any
}

// Report lists the operations performed by one request, in execution order.
type Report struct {
	Operations []Operation
}

// Count returns how many operations of the given action touched table. An
// empty table counts every table.
func (r Report) Count(table string, action domain.Action) int {
	n := 0
	for _, op := range r.Operations {
		if op.Action == action && (table == "" || op.Table == table) {
			n++
		}
	}
	return n
}

// Resolver walks a request document and routes each row descriptor to its
// table handler inside the caller's transaction.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Registry exposes the table registry.
func (r *Resolver) Registry() *Registry { return r.registry }

// Process resolves doc against tx. Each top-level table starts with an empty
// set of resolved dependencies; rows nested beneath a descriptor share it.
func (r *Resolver) Process(tx domain.Transaction, doc *Object) (Report, error) {
	var report Report
	if doc == nil || doc.Len() == 0 {
		return report, ErrEmptyDocument
	}
	for _, name := range doc.Keys() {
		value, _ := doc.Get(name)
		resolved := make(map[string]any)
		if err := r.processTable(tx, name, value, resolved, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Resolver) processTable(tx domain.Transaction, name string, value any, resolved map[string]any, report *Report) error {
	table, err := r.registry.Lookup(name)
	if err != nil {
		return err
	}
	rows, err := rowsOf(name, value)
	if err != nil {
		return err
	}
	for _, row := range rows {
		result, err := r.processRow(tx, table, row, resolved, report)
		if err != nil {
			return err
		}
		resolved[name] = result
		for _, key := range row.Keys() {
			if !isNestedKey(table, key) {
				continue
			}
			nested, _ := row.Get(key)
			if err := r.processTable(tx, key, nested, resolved, report); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) processRow(tx domain.Transaction, table Table, row *Object, resolved map[string]any, report *Report) (any, error) {
	call := &Call{Tx: tx, Row: row, table: table, registry: r.registry, provided: dependenciesOf(table, resolved)}
	record := func(action domain.Action, v any) {
		report.Operations = append(report.Operations, Operation{Table: table.Name(), Action: action, Row: v})
	}

	if !addressesRow(table, row) {
		v, err := table.Insert(call)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", table.Name(), err)
		}
		record(domain.ActionCreate, v)
		return v, nil
	}

	current, err := table.Get(tx, row)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// A fully keyed row that does not exist yet is created, even when
		// flagged for deletion.
		v, err := table.Insert(call)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", table.Name(), err)
		}
		record(domain.ActionCreate, v)
		return v, nil
	case err != nil:
		return nil, err
	}

	// Nested rows see the addressed row even when it is deleted here.
	resolved[table.Name()] = current
	if row.Truthy(IsDeleteKey) {
		v, err := table.Delete(call, current)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", table.Name(), err)
		}
		record(domain.ActionDelete, v)
		return v, nil
	}
	v, err := table.Modify(call, current)
	if err != nil {
		return nil, fmt.Errorf("modify %s: %w", table.Name(), err)
	}
	record(domain.ActionUpdate, v)
	return v, nil
}

func rowsOf(name string, value any) ([]*Object, error) {
	switch v := value.(type) {
	case *Object:
		return []*Object{v}, nil
	case []any:
		rows := make([]*Object, 0, len(v))
		for i, item := range v {
			obj, ok := item.(*Object)
			if !ok {
				return nil, fmt.Errorf("table %s: row %d is %T, expected an object", name, i, item)
			}
			rows = append(rows, obj)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("table %s: expected an object or a list of objects, got %T", name, value)
	}
}

// addressesRow reports whether every primary key column is present and non-null.
func addressesRow(table Table, row *Object) bool {
	for _, pk := range table.PrimaryKeys() {
		if !row.Present(pk) {
			return false
		}
	}
	return true
}

func dependenciesOf(table Table, resolved map[string]any) map[string]any {
	deps := make(map[string]any, len(table.Dependencies()))
	for _, name := range table.Dependencies() {
		if v, ok := resolved[name]; ok {
			deps[name] = v
		}
	}
	return deps
}

func isNestedKey(table Table, key string) bool {
	if key == IsDeleteKey {
		return false
	}
	for _, group := range [][]string{table.PrimaryKeys(), table.Columns(), table.RequiredInsert(), table.Modifiable(), table.Dependencies()} {
		for _, c := range group {
			if c == key {
				return false
			}
		}
	}
	return true
}

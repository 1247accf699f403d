package metadata

import (
	"sort"
	"sync"
)

// Registry is the in-memory view of table, rule and permission metadata.
// It is replaced wholesale on startup and after admin mutations.
type Registry struct {
	mu          sync.RWMutex
	tables      map[string]*Table
	rules       map[string][]*Rule       // keyed by table name, priority order
	permissions map[string][]*Permission // keyed by table name
}

func NewRegistry() *Registry {
	return &Registry{
		tables:      make(map[string]*Table),
		rules:       make(map[string][]*Rule),
		permissions: make(map[string][]*Permission),
	}
}

// GetTable returns the table with the given name, or nil.
func (r *Registry) GetTable(name string) *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// AllTables returns all registered tables sorted by group, order and name.
func (r *Registry) AllTables() []*Table {
	r.mu.RLock()
	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	r.mu.RUnlock()

	sort.Slice(tables, func(i, j int) bool {
		a, b := tables[i], tables[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	return tables
}

// GetRules returns the active rules of a table in priority order.
func (r *Registry) GetRules(table string) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules[table]
}

// GetPermissions returns the permissions on a table for one action.
func (r *Registry) GetPermissions(table, action string) []*Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Permission
	for _, p := range r.permissions[table] {
		if p.Action == action {
			out = append(out, p)
		}
	}
	return out
}

// Load replaces all tables in the registry.
func (r *Registry) Load(tables []*Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = make(map[string]*Table, len(tables))
	for _, t := range tables {
		r.tables[t.Name] = t
	}
}

// Register adds or replaces a single table.
func (r *Registry) Register(t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[t.Name] = t
}

// LoadRules replaces all rules. Inactive rules are dropped.
func (r *Registry) LoadRules(rules []*Rule) {
	byTable := make(map[string][]*Rule)
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		byTable[rule.Table] = append(byTable[rule.Table], rule)
	}
	for _, list := range byTable {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = byTable
}

// LoadPermissions replaces all permissions.
func (r *Registry) LoadPermissions(perms []*Permission) {
	byTable := make(map[string][]*Permission)
	for _, p := range perms {
		byTable[p.Table] = append(byTable[p.Table], p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions = byTable
}

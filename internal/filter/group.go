package filter

import "time"

// Group is a boolean expression over filters and nested groups. Filters and
// sub-groups are combined with Join; Not negates the combined result.
type Group struct {
	Join    JoinOperator `json:"joinOperator,omitempty" mapstructure:"joinOperator"`
	Not     bool         `json:"not,omitempty" mapstructure:"not"`
	Filters []Filter     `json:"filters,omitempty" mapstructure:"filters"`
	Groups  []Group      `json:"groups,omitempty" mapstructure:"groups"`
}

// IsEmpty reports whether the group has no conditions at any depth.
func (g Group) IsEmpty() bool {
	if len(g.Filters) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}

// Eval evaluates the group against row. An empty group matches (or, with Not,
// never matches). An unknown join never matches, negated or not.
func (g Group) Eval(row map[string]any, now time.Time) bool {
	if len(g.Filters) == 0 && len(g.Groups) == 0 {
		return !g.Not
	}
	j, ok := ParseJoinOperator(string(g.Join))
	if !ok {
		return false
	}
	result := g.fold(row, now, j == JoinOr)
	if g.Not {
		return !result
	}
	return result
}

func (g Group) fold(row map[string]any, now time.Time, isOr bool) bool {
	for _, f := range g.Filters {
		if Apply(row, f, now) == isOr {
			return isOr
		}
	}
	for _, sub := range g.Groups {
		if sub.Eval(row, now) == isOr {
			return isOr
		}
	}
	return !isOr
}

// And combines groups so that all must match. Empty groups are dropped.
func And(groups ...Group) Group {
	out := Group{Join: JoinAnd}
	for _, g := range groups {
		if g.IsEmpty() && !g.Not {
			continue
		}
		out.Groups = append(out.Groups, g)
	}
	return out
}

// Columns returns the distinct column IDs referenced anywhere in the group.
func (g Group) Columns() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(Group)
	walk = func(g Group) {
		for _, f := range g.Filters {
			if !seen[f.ID] {
				seen[f.ID] = true
				out = append(out, f.ID)
			}
		}
		for _, sub := range g.Groups {
			walk(sub)
		}
	}
	walk(g)
	return out
}

package metadata

// NavItem is a sidebar entry linking to a table.
type NavItem struct {
	Table string `json:"table"`
	Label string `json:"label"`
	Icon  string `json:"icon,omitempty"`
	Path  string `json:"path"`
}

// NavGroup is a titled section of the sidebar.
type NavGroup struct {
	Title string    `json:"title"`
	Items []NavItem `json:"items"`
}

// BuildNav groups tables for the sidebar. Tables without a group land in
// "General". Group order follows the first table of each group as returned
// by AllTables; tables the user may not read are skipped by canRead.
func BuildNav(tables []*Table, canRead func(*Table) bool) []NavGroup {
	var groups []NavGroup
	index := make(map[string]int)
	for _, t := range tables {
		if canRead != nil && !canRead(t) {
			continue
		}
		title := t.Group
		if title == "" {
			title = "General"
		}
		i, ok := index[title]
		if !ok {
			i = len(groups)
			index[title] = i
			groups = append(groups, NavGroup{Title: title})
		}
		groups[i].Items = append(groups[i].Items, NavItem{
			Table: t.Name,
			Label: t.DisplayLabel(),
			Icon:  t.Icon,
			Path:  "/" + t.Name,
		})
	}
	return groups
}

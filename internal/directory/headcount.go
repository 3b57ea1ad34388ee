package directory

import (
	"sort"
	"strings"
)

// GroupCount is the headcount of one unit, or of one role within a unit.
type GroupCount struct {
	Unit     string `json:"unit"`
	Role     string `json:"role,omitempty"`
	Total    int    `json:"total"`
	Active   int    `json:"active"`
	Inactive int    `json:"inactive"`
}

// Headcount summarizes the directory.
type Headcount struct {
	Total      int          `json:"total"`
	Active     int          `json:"active"`
	Inactive   int          `json:"inactive"`
	ByUnit     []GroupCount `json:"by_unit"`
	ByPosition []GroupCount `json:"by_position"`
}

// CountHeadcount groups employees by unit and by (unit, role). Employees
// with an empty unit are left out of ByUnit, and those with an empty role
// out of ByPosition. Groups compare case-insensitively and keep the first
// spelling seen. Both lists are ordered by descending total, then by name.
func CountHeadcount(employees []Employee) Headcount {
	h := Headcount{ByUnit: []GroupCount{}, ByPosition: []GroupCount{}}
	units := make(map[string]*GroupCount)
	positions := make(map[string]*GroupCount)
	var unitOrder, positionOrder []string

	for _, e := range employees {
		h.Total++
		if e.Active {
			h.Active++
		} else {
			h.Inactive++
		}

		unit, role := strings.TrimSpace(e.Unit), strings.TrimSpace(e.Role)
		if unit != "" {
			k := strings.ToUpper(unit)
			g, ok := units[k]
			if !ok {
				g = &GroupCount{Unit: unit}
				units[k] = g
				unitOrder = append(unitOrder, k)
			}
			g.add(e.Active)
		}
		if role != "" {
			k := strings.ToUpper(unit) + "|" + strings.ToUpper(role)
			g, ok := positions[k]
			if !ok {
				g = &GroupCount{Unit: unit, Role: role}
				positions[k] = g
				positionOrder = append(positionOrder, k)
			}
			g.add(e.Active)
		}
	}

	for _, k := range unitOrder {
		h.ByUnit = append(h.ByUnit, *units[k])
	}
	for _, k := range positionOrder {
		h.ByPosition = append(h.ByPosition, *positions[k])
	}
	sortGroups(h.ByUnit)
	sortGroups(h.ByPosition)
	return h
}

func (g *GroupCount) add(active bool) {
	g.Total++
	if active {
		g.Active++
	} else {
		g.Inactive++
	}
}

func sortGroups(groups []GroupCount) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.Role < b.Role
	})
}

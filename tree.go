package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/indent"
	"github.com/umpc/go-sortedmap"
	"golang.org/x/exp/maps"

	"github.com/pdok/vedit/backend"
)

// renderTree prints one state per line, children indented below their parent and
// followed by the versions pointing at them.
func renderTree(states []backend.StateInfo, versions []backend.VersionInfo) string {
	byID := sortedmap.New(len(states), func(x, y interface{}) bool {
		return x.(backend.StateID) < y.(backend.StateID)
	})
	for _, st := range states {
		byID.Insert(st.ID, st)
	}
	labels := make(map[backend.StateID][]string)
	for _, v := range versions {
		labels[v.State] = append(labels[v.State], v.Name)
	}

	children := make(map[backend.StateID][]backend.StateInfo)
	var roots []backend.StateInfo
	all := byID.Map()
	for _, key := range byID.Keys() {
		st := all[key].(backend.StateInfo)
		if _, ok := all[st.Parent]; ok && st.Parent != st.ID {
			children[st.Parent] = append(children[st.Parent], st)
		} else {
			roots = append(roots, st)
		}
	}

	var render func(st backend.StateInfo) string
	render = func(st backend.StateInfo) string {
		line := st.ID.String()
		if names := labels[st.ID]; len(names) > 0 {
			slices.Sort(names)
			line += " " + strings.Join(names, ", ")
		}
		if st.Open {
			line += fmt.Sprintf(" [open by %s]", st.Owner)
		}
		var sub strings.Builder
		for _, child := range children[st.ID] {
			sub.WriteString(render(child))
		}
		return line + "\n" + indent.String(sub.String(), 2)
	}

	var b strings.Builder
	for _, root := range roots {
		b.WriteString(render(root))
	}
	return b.String()
}

// formatFeature prints a row as tab separated row id, state, sorted attributes and WKT.
func formatFeature(f backend.Feature) string {
	fields := []string{fmt.Sprintf("%d", f.RowID), f.State.String()}
	names := maps.Keys(f.Attributes)
	slices.Sort(names)
	for _, name := range names {
		fields = append(fields, fmt.Sprintf("%s=%v", name, f.Attributes[name]))
	}
	if f.Geometry != nil {
		var b strings.Builder
		if err := wkt.Encode(&b, f.Geometry); err != nil {
			fields = append(fields, "<invalid geometry>")
		} else {
			fields = append(fields, b.String())
		}
	}
	return strings.Join(fields, "\t")
}

package graph

import (
	"maps"

	"github.com/c360studio/semplan/concept"
)

// AssignAncestryViews sets every node's view to its ancestry.
//
// A root's ancestry is itself, or nothing when it is dominating. A node fed by
// a dominating parent takes that parent's ancestry unchanged. Any other node
// takes the union of its parents' ancestries and the parents themselves, plus
// itself. Classification parents pass their ancestry on without their own
// name, since they never become axes of their own.
//
// Views list the node first, then the rest in declaration order.
func AssignAncestryViews(spec *Spec, dominating []string) error {
	order, err := spec.topological()
	if err != nil {
		return err
	}
	dom := make(map[string]bool, len(dominating))
	for _, d := range dominating {
		dom[d] = true
	}
	types := make(map[string]concept.Type, len(spec.Nodes))
	for _, n := range spec.Nodes {
		types[n.Name] = n.Type
	}

	ancestry := make(map[string]map[string]bool, len(order))
	for _, name := range order {
		parents := spec.parents(name)
		if len(parents) == 0 {
			if dom[name] {
				ancestry[name] = map[string]bool{}
			} else {
				ancestry[name] = map[string]bool{name: true}
			}
			continue
		}

		var dominant string
		for _, p := range parents {
			if dom[p] {
				dominant = p
				break
			}
		}
		if dominant != "" {
			ancestry[name] = maps.Clone(ancestry[dominant])
			continue
		}

		set := map[string]bool{name: true}
		for _, p := range parents {
			for a := range ancestry[p] {
				set[a] = true
			}
			if types[p] == concept.TypeClassification {
				delete(set, p)
			} else {
				set[p] = true
			}
		}
		ancestry[name] = set
	}

	for i := range spec.Nodes {
		n := &spec.Nodes[i]
		set := ancestry[n.Name]
		var view []string
		if set[n.Name] {
			view = append(view, n.Name)
		}
		for _, other := range spec.Nodes {
			if other.Name != n.Name && set[other.Name] {
				view = append(view, other.Name)
			}
		}
		n.View = view
	}
	return nil
}

package plan

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Describe writes a readable summary of the plan: its I/O, concepts,
// inferences and, when it can be computed, the execution order.
func (p *Plan) Describe(w io.Writer) error {
	inputs, output := p.IO()
	concepts := p.Concepts()
	inferences := p.Inferences()

	fmt.Fprintln(w, "I/O")
	fmt.Fprintf(w, "  inputs:    %s\n", strings.Join(inputs, ", "))
	fmt.Fprintf(w, "  output:    %s\n", output)
	fmt.Fprintf(w, "  constants: %s\n", strings.Join(p.Constants(), ", "))
	if unbound := p.UnboundConstants(); len(unbound) > 0 {
		fmt.Fprintf(w, "  unbound:   %s\n", strings.Join(unbound, ", "))
	}

	fmt.Fprintf(w, "\nConcepts (%d)\n", len(concepts))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tTYPE\tREFERENCE\tCONTEXT")
	for _, c := range concepts {
		ref := "-"
		if c.HasReference() {
			ref = fmt.Sprintf("%v %v", c.Reference.Axes(), c.Reference.Shape())
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Name, c.Type, ref, oneLine(c.Context, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nInferences (%d)\n", len(inferences))
	for _, inf := range inferences {
		fmt.Fprintf(w, "  %s\n", inf)
		if len(inf.View) > 0 {
			fmt.Fprintf(w, "    view: %s\n", strings.Join(inf.View, ", "))
		}
	}

	order, err := p.ExpectedOrder()
	if err != nil {
		_, werr := fmt.Fprintf(w, "\nOrder: %v\n", err)
		return werr
	}
	fmt.Fprintln(w, "\nOrder")
	for i, inf := range order {
		fmt.Fprintf(w, "  %d. %s\n", i+1, inf.Target)
	}
	return nil
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}

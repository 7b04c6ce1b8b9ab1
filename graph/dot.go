package graph

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/c360studio/semplan/concept"
)

// id matches a quoted or bare DOT identifier.
const id = `(?:"([^"]+)"|([\w.]+))`

// edgePattern matches: "a" -> "b" [label="perc"]
var edgePattern = regexp.MustCompile(id + `\s*->\s*` + id + `\s*\[\s*label\s*=\s*"?(\w+)"?\s*\]\s*;?`)

// nodePattern matches: "name" [xlabel="view"]
var nodePattern = regexp.MustCompile(id + `\s*\[\s*xlabel\s*=\s*"([^"]*)"\s*\]\s*;?`)

// sentencePattern matches sentence names such as <x>^2.
var sentencePattern = regexp.MustCompile(`^<(.+)>\^\d+$`)

// ParseDOT reads an annotated DOT plan source.
//
// Leading lines starting with ### form the plan context. Nodes are declared as
// "name" [xlabel="view"], where view lists axes as {'a', 'b'}, [a, b] or a
// plain comma separated list. Edges are "a" -> "b" [label="perc"] or
// [label="cog"]. Nodes that only appear in edges are declared with no view.
// Node types follow the name syntax: <x> judgement, <x>^n sentence, x?
// classification, [x] relation, @x assignment, anything else object.
func ParseDOT(r io.Reader) (*Spec, error) {
	spec := &Spec{}
	var context []string
	inHeader := true
	declared := make(map[string]bool)
	var edgeOnly []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if inHeader {
			if text, ok := strings.CutPrefix(line, "###"); ok {
				context = append(context, strings.TrimSpace(text))
				continue
			}
			if line == "" {
				continue
			}
			inHeader = false
			spec.Context = strings.Join(context, " ")
		}

		for _, m := range edgePattern.FindAllStringSubmatch(line, -1) {
			e := Edge{From: pick(m[1], m[2]), To: pick(m[3], m[4]), Kind: EdgeKind(m[5])}
			if e.Kind != EdgePerception && e.Kind != EdgeCognition {
				return nil, fmt.Errorf("line %d: %w: label %q", lineNo, ErrInvalidEdge, m[5])
			}
			spec.Edges = append(spec.Edges, e)
			for _, name := range []string{e.From, e.To} {
				if !declared[name] && !slices.Contains(edgeOnly, name) {
					edgeOnly = append(edgeOnly, name)
				}
			}
		}
		line = edgePattern.ReplaceAllString(line, "")

		for _, m := range nodePattern.FindAllStringSubmatch(line, -1) {
			name := pick(m[1], m[2])
			if declared[name] {
				return nil, fmt.Errorf("line %d: %w: %q", lineNo, ErrDuplicateNode, name)
			}
			declared[name] = true
			spec.Nodes = append(spec.Nodes, Node{Name: name, View: parseView(m[3])})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dot: %w", err)
	}
	if inHeader {
		spec.Context = strings.Join(context, " ")
	}

	for _, name := range edgeOnly {
		if !declared[name] {
			spec.Nodes = append(spec.Nodes, Node{Name: name})
		}
	}
	for i := range spec.Nodes {
		n := &spec.Nodes[i]
		n.Type = InferType(n.Name)
		n.Context = annotate(n.Name, n.Type, spec.Context)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func pick(quoted, bare string) string {
	if quoted != "" {
		return quoted
	}
	return bare
}

// parseView reads an xlabel axis list.
func parseView(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '{' && s[len(s)-1] == '}' || s[0] == '[' && s[len(s)-1] == ']') {
		s = s[1 : len(s)-1]
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InferType derives a concept type from name syntax.
func InferType(name string) concept.Type {
	switch {
	case strings.HasPrefix(name, "<") && strings.HasSuffix(name, ">"):
		return concept.TypeJudgement
	case sentencePattern.MatchString(name):
		return concept.TypeSentence
	case strings.HasSuffix(name, "?"):
		return concept.TypeClassification
	case strings.HasPrefix(name, "["):
		return concept.TypeRelation
	case strings.HasPrefix(name, "@"):
		return concept.TypeAssignment
	}
	return concept.TypeObject
}

// baseName strips the type syntax from name.
func baseName(name string, t concept.Type) string {
	switch t {
	case concept.TypeJudgement:
		return name[1 : len(name)-1]
	case concept.TypeSentence:
		return sentencePattern.FindStringSubmatch(name)[1]
	case concept.TypeClassification:
		return strings.TrimSuffix(name, "?")
	case concept.TypeRelation:
		return strings.TrimSuffix(strings.TrimPrefix(name, "["), "]")
	case concept.TypeAssignment:
		return strings.TrimPrefix(name, "@")
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
}

// annotate generates the context of a node parsed from DOT.
func annotate(name string, t concept.Type, context string) string {
	base := baseName(name, t)
	var note string
	switch t {
	case concept.TypeJudgement:
		note = fmt.Sprintf("%s is a judgement about %s.", name, base)
	case concept.TypeSentence:
		note = fmt.Sprintf("%s is a sentence with specific truth values about %s.", name, base)
	case concept.TypeClassification:
		note = fmt.Sprintf("%s is a classification concept: it extracts instances of %s by name from its input.", name, base)
	case concept.TypeRelation:
		note = fmt.Sprintf("%s is a relation between %s.", name, base)
	case concept.TypeAssignment:
		note = fmt.Sprintf("%s assigns a value to the concepts related to %s.", name, base)
	default:
		note = fmt.Sprintf("%s refers to specific objects of %s by name.", name, base)
	}
	if context == "" {
		return note
	}
	return note + " It is extracted from the context: " + context
}

// WriteDOT writes spec as an annotated DOT source that ParseDOT reads back.
// Generated node contexts are not written; they are regenerated on parse.
func WriteDOT(w io.Writer, spec *Spec) error {
	bw := bufio.NewWriter(w)
	if spec.Context != "" {
		fmt.Fprintf(bw, "### %s\n", spec.Context)
	}
	fmt.Fprintln(bw, "digraph plan {")
	for _, n := range spec.Nodes {
		view := make([]string, len(n.View))
		for i, v := range n.View {
			view[i] = "'" + v + "'"
		}
		fmt.Fprintf(bw, "    %q [xlabel=\"{%s}\"];\n", n.Name, strings.Join(view, ", "))
	}
	for _, e := range spec.Edges {
		fmt.Fprintf(bw, "    %q -> %q [label=%q];\n", e.From, e.To, string(e.Kind))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// Package graph lays out control-flow graphs as labelled vertices and
// edges and renders them in Graphviz DOT format.
package graph

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/emicklei/dot"

	"github.com/chazu/sqdis/cfg"
	"github.com/chazu/sqdis/disasm"
)

// Vertex is one basic block. ID is unique across all functions of the
// program.
type Vertex struct {
	ID    int
	Title string
	Rows  []string
	Dead  bool
}

// EdgeKind distinguishes successor edges from closure links.
type EdgeKind int

const (
	EdgeNext EdgeKind = iota
	EdgeBranch
	EdgeClosure
)

// Edge links the vertex Head to the vertex Tail.
type Edge struct {
	Head  int
	Tail  int
	Kind  EdgeKind
	Label string
}

// Graph is an ordered vertex and edge list.
type Graph struct {
	Name     string
	vertices []Vertex
	index    map[int]int
	edges    []Edge
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{Name: name, index: make(map[int]int)}
}

// AddVertex adds v unless a vertex with the same ID exists; the first
// label wins.
func (g *Graph) AddVertex(v Vertex) {
	if _, ok := g.index[v.ID]; ok {
		return
	}
	g.index[v.ID] = len(g.vertices)
	g.vertices = append(g.vertices, v)
}

// AddEdge appends an edge.
func (g *Graph) AddEdge(e Edge) {
	g.edges = append(g.edges, e)
}

// Vertex returns the vertex with the given ID.
func (g *Graph) Vertex(id int) (Vertex, bool) {
	i, ok := g.index[id]
	if !ok {
		return Vertex{}, false
	}
	return g.vertices[i], true
}

func (g *Graph) Vertices() []Vertex { return g.vertices }
func (g *Graph) Edges() []Edge      { return g.edges }

// FromCFG lays out c and all of its nested graphs. Each function's block
// IDs are its instruction addresses offset by the total instruction count
// of the functions laid out before it, so vertices never collide.
func FromCFG(c *cfg.Graph) *Graph {
	g := New(c.Proto.QualifiedName())

	var order []*cfg.Graph
	bases := make(map[*cfg.Graph]int)
	next := 0
	c.Walk(func(sub *cfg.Graph) {
		order = append(order, sub)
		bases[sub] = next
		next += len(sub.Proto.Instructions)
	})

	for _, sub := range order {
		base := bases[sub]
		for _, b := range sub.Blocks {
			g.AddVertex(vertexFor(b, base))
		}
	}

	for _, sub := range order {
		base := bases[sub]
		for _, b := range sub.Blocks {
			if n := b.Next(); n != nil {
				g.AddEdge(Edge{
					Head:  base + b.First,
					Tail:  base + n.First,
					Kind:  EdgeNext,
					Label: fmt.Sprintf("%d->%d", b.First, n.First),
				})
			}
			if br := b.Branch(); br != nil {
				g.AddEdge(Edge{
					Head:  base + b.First,
					Tail:  base + br.First,
					Kind:  EdgeBranch,
					Label: fmt.Sprintf("Branch\n%d->%d", b.First, br.First),
				})
			}
		}
		for _, cl := range sub.Closures {
			owner := containing(sub, cl.Pos)
			if owner == nil || cl.Graph.Root == nil {
				continue
			}
			g.AddEdge(Edge{
				Head: base + owner.First,
				Tail: bases[cl.Graph] + cl.Graph.Root.First,
				Kind: EdgeClosure,
				Label: fmt.Sprintf("%s(%d-%d)->%s(%d-%d)",
					sub.Proto.DisplayName(), owner.First, owner.Last,
					cl.Graph.Proto.DisplayName(), cl.Graph.Root.First, cl.Graph.Root.Last),
			})
		}
	}
	return g
}

// containing finds the block holding ip among all blocks, dead or alive.
func containing(c *cfg.Graph, ip int) *cfg.Block {
	for _, b := range c.Blocks {
		if b.Contains(ip) {
			return b
		}
	}
	return nil
}

func vertexFor(b *cfg.Block, base int) Vertex {
	p := b.Graph().Proto
	v := Vertex{ID: base + b.First, Dead: b.Dead()}
	if b.First == 0 {
		v.Title = disasm.Header(p)
	}
	for _, in := range b.Instructions() {
		v.Rows = append(v.Rows, fmt.Sprintf("%04d %s", in.Pos, disasm.FormatInstruction(p, in)))
	}
	return v
}

// DOT renders the graph. Vertices become HTML table nodes with one row
// per instruction.
func (g *Graph) DOT() string {
	d := dot.NewGraph(dot.Directed)
	d.Attr("label", g.Name)
	d.Attr("labelloc", "t")

	nodes := make(map[int]dot.Node, len(g.vertices))
	for _, v := range g.vertices {
		n := d.Node("b" + strconv.Itoa(v.ID))
		n.Attr("shape", "plaintext")
		n.Attr("fontname", "monospace")
		n.Attr("label", dot.HTML(htmlLabel(v)))
		nodes[v.ID] = n
	}
	for _, e := range g.edges {
		from, ok := nodes[e.Head]
		if !ok {
			continue
		}
		to, ok := nodes[e.Tail]
		if !ok {
			continue
		}
		edge := d.Edge(from, to)
		edge.Attr("label", dot.Literal(quoteLabel(e.Label)))
		switch e.Kind {
		case EdgeBranch:
			edge.Attr("color", "red")
		case EdgeClosure:
			edge.Attr("style", "dashed")
		}
	}
	return d.String()
}

func htmlLabel(v Vertex) string {
	var sb strings.Builder
	sb.WriteString(`<table border="0" cellborder="1" cellspacing="0">`)
	if v.Title != "" {
		fmt.Fprintf(&sb, `<tr><td align="left" bgcolor="lightgrey"><b>%s</b></td></tr>`, html.EscapeString(v.Title))
	}
	if v.Dead {
		sb.WriteString(`<tr><td align="left" bgcolor="pink"><i>dead code</i></td></tr>`)
	}
	for _, row := range v.Rows {
		fmt.Fprintf(&sb, `<tr><td align="left">%s</td></tr>`, html.EscapeString(row))
	}
	sb.WriteString(`</table>`)
	return sb.String()
}

// quoteLabel returns s as a double-quoted DOT string.
func quoteLabel(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

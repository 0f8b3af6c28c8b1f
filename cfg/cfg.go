// Package cfg partitions a function's instructions into basic blocks and
// links them into a control-flow graph. Nested functions created by
// Closure instructions get their own graphs, reachable from the block
// that creates them.
package cfg

import (
	"sort"

	"github.com/chazu/sqdis/bytecode"
)

// Graph is the control-flow graph of one prototype.
type Graph struct {
	Proto  *bytecode.Prototype
	Parent *Graph
	Root   *Block

	// Blocks holds every block ever created, in creation order, including
	// blocks later pruned as dead.
	Blocks []*Block

	// Closures lists the nested graphs in instruction order.
	Closures []Closure

	starts map[int]*Block
}

// Closure pairs a Closure instruction address with the nested graph.
type Closure struct {
	Pos   int
	Graph *Graph
}

// BlockAt returns the live block starting at ip.
func (g *Graph) BlockAt(ip int) (*Block, bool) {
	b, ok := g.starts[ip]
	return b, ok
}

// Lookup returns the live block containing ip, or nil.
func (g *Graph) Lookup(ip int) *Block {
	for _, b := range g.starts {
		if b.Contains(ip) {
			return b
		}
	}
	return nil
}

// Ordered returns the live blocks sorted by start address.
func (g *Graph) Ordered() []*Block {
	out := make([]*Block, 0, len(g.starts))
	for _, b := range g.starts {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out
}

// Walk calls fn for g and every nested graph, parents first.
func (g *Graph) Walk(fn func(*Graph)) {
	fn(g)
	for _, c := range g.Closures {
		c.Graph.Walk(fn)
	}
}

func (g *Graph) newBlock(first, last int) *Block {
	b := newBlock(g, first, last)
	g.Blocks = append(g.Blocks, b)
	g.starts[first] = b
	return b
}

// Build constructs the graph for p and, recursively, for every function
// created by its Closure instructions.
func Build(p *bytecode.Prototype) *Graph {
	return build(p, nil)
}

func build(p *bytecode.Prototype, parent *Graph) *Graph {
	g := &Graph{
		Proto:  p,
		Parent: parent,
		starts: make(map[int]*Block),
	}
	n := len(p.Instructions)
	g.Root = g.newBlock(0, 0)
	if n == 0 {
		g.Root.Last = -1
		return g
	}

	b := &builder{g: g, n: n, current: g.Root}
	for ip := range n {
		b.step(ip)
	}

	g.linkFallthrough()
	g.breakSelfLoops()
	g.pruneDead()
	return g
}

type builder struct {
	g       *Graph
	n       int
	current *Block
}

func (b *builder) step(ip int) {
	g := b.g
	in := g.Proto.Instructions[ip]

	if blk, ok := g.starts[ip]; ok && blk != b.current {
		if b.current != nil {
			b.current.SetNext(blk)
			b.current.SetBranch(nil)
		}
		b.current = blk
	}
	if b.current == nil {
		b.current = g.newBlock(ip, ip)
	}
	b.current.Last = ip

	info, _ := bytecode.GetOpcodeInfo(in.Op)
	switch {
	case in.Op == bytecode.OpReturn:
		b.current = nil

	case in.Op == bytecode.OpClosure:
		if in.Arg1 < 0 || int(in.Arg1) >= len(g.Proto.Functions) {
			return
		}
		sub := build(g.Proto.Functions[in.Arg1], g)
		b.current.Closures[ip] = sub
		g.Closures = append(g.Closures, Closure{Pos: ip, Graph: sub})

	case info.Jump == bytecode.JumpAlways:
		target, _ := in.Target()
		if target == ip+1 {
			return
		}
		var t *Block
		if b.inRange(target) {
			t = b.blockAt(target, ip)
		}
		b.current.SetNext(t)
		b.current.SetBranch(nil)
		b.current = nil

	case info.Jump == bytecode.JumpConditional:
		target, _ := in.Target()
		if target == ip+1 {
			return
		}
		var next, branch *Block
		if ip+1 < b.n {
			next = b.blockAt(ip+1, ip)
		}
		if b.inRange(target) {
			branch = b.blockAt(target, ip)
		}
		b.current.SetNext(next)
		b.current.SetBranch(branch)
		b.current = nil
	}
}

func (b *builder) inRange(ip int) bool { return ip >= 0 && ip < b.n }

// blockAt returns the block starting at target, creating it ahead of the
// scan or splitting an already scanned block when target lands inside one.
func (b *builder) blockAt(target, ip int) *Block {
	if blk, ok := b.g.starts[target]; ok {
		return blk
	}
	if target <= ip {
		return b.split(target)
	}
	return b.g.newBlock(target, -1)
}

// split cuts the scanned block containing at into [First, at-1] and
// [at, Last]. The tail inherits the outgoing edges and closures.
func (b *builder) split(at int) *Block {
	var host *Block
	for start, blk := range b.g.starts {
		if start < at && (host == nil || start > host.First) {
			host = blk
		}
	}
	tail := b.g.newBlock(at, host.Last)
	tail.SetNext(host.next)
	tail.SetBranch(host.branch)

	host.Last = at - 1
	host.SetNext(tail)
	host.SetBranch(nil)

	for pos, sub := range host.Closures {
		if pos >= at {
			tail.Closures[pos] = sub
			delete(host.Closures, pos)
		}
	}
	if b.current == host {
		b.current = tail
	}
	return tail
}

// linkFallthrough connects blocks that run off their end into the block
// that starts at the following address.
func (g *Graph) linkFallthrough() {
	code := g.Proto.Instructions
	for _, b := range g.Blocks {
		if b.Last < b.First || b.next != nil {
			continue
		}
		if code[b.Last].Op == bytecode.OpReturn {
			continue
		}
		if info, _ := bytecode.GetOpcodeInfo(code[b.Last].Op); info.Jump == bytecode.JumpAlways {
			if t, _ := code[b.Last].Target(); t != b.Last+1 {
				continue
			}
		}
		if nb, ok := g.starts[b.Last+1]; ok {
			b.SetNext(nb)
		}
	}
}

func (g *Graph) breakSelfLoops() {
	for _, b := range g.Blocks {
		if b.next == b {
			b.SetNext(nil)
		}
		if b.branch == b {
			b.SetBranch(nil)
		}
	}
}

// pruneDead removes every non-root block without predecessors, repeating
// until no block changes, since disconnecting one dead block can orphan
// its successors.
func (g *Graph) pruneDead() {
	for {
		changed := false
		for _, b := range g.Blocks {
			if b == g.Root || b.dead || len(b.parents) > 0 {
				continue
			}
			b.disconnect()
			b.dead = true
			delete(g.starts, b.First)
			changed = true
		}
		if !changed {
			return
		}
	}
}

package cfg

import (
	"sort"

	"github.com/chazu/sqdis/bytecode"
)

// Block is a maximal straight-line run of instructions [First, Last].
//
// Successor edges are set through SetNext and SetBranch so that the
// parent sets of the targets stay consistent: B is in T's parents exactly
// when B.Next() == T or B.Branch() == T.
type Block struct {
	First int
	Last  int

	owner   *Graph
	next    *Block
	branch  *Block
	parents map[*Block]struct{}
	dead    bool

	// Closures maps the address of each Closure instruction in the block to
	// the graph of the function it creates.
	Closures map[int]*Graph
}

func newBlock(g *Graph, first, last int) *Block {
	return &Block{
		First:    first,
		Last:     last,
		owner:    g,
		parents:  make(map[*Block]struct{}),
		Closures: make(map[int]*Graph),
	}
}

// Graph returns the graph the block belongs to.
func (b *Block) Graph() *Graph { return b.owner }

// Next is the fall-through or unconditional successor.
func (b *Block) Next() *Block { return b.next }

// Branch is the taken target of a conditional jump.
func (b *Block) Branch() *Block { return b.branch }

// Dead reports whether the block was pruned as unreachable.
func (b *Block) Dead() bool { return b.dead }

// Len returns the number of instructions in the block.
func (b *Block) Len() int { return b.Last - b.First + 1 }

// Contains reports whether ip lies inside the block.
func (b *Block) Contains(ip int) bool { return ip >= b.First && ip <= b.Last }

// SetNext replaces the next edge.
func (b *Block) SetNext(t *Block) {
	old := b.next
	b.next = t
	b.relink(old, t)
}

// SetBranch replaces the branch edge.
func (b *Block) SetBranch(t *Block) {
	old := b.branch
	b.branch = t
	b.relink(old, t)
}

func (b *Block) relink(old, t *Block) {
	if old != nil && old != b.next && old != b.branch {
		delete(old.parents, b)
	}
	if t != nil {
		t.parents[b] = struct{}{}
	}
}

// NumParents returns the number of distinct predecessors.
func (b *Block) NumParents() int { return len(b.parents) }

// HasParent reports whether p has an edge into b.
func (b *Block) HasParent(p *Block) bool {
	_, ok := b.parents[p]
	return ok
}

// Parents returns the predecessors ordered by address.
func (b *Block) Parents() []*Block {
	out := make([]*Block, 0, len(b.parents))
	for p := range b.parents {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out
}

// Instructions returns the block's slice of the function's code.
func (b *Block) Instructions() []bytecode.Instruction {
	if b.Last < b.First {
		return nil
	}
	return b.owner.Proto.Instructions[b.First : b.Last+1]
}

// ClosureAddrs returns the addresses of the block's Closure instructions
// in ascending order.
func (b *Block) ClosureAddrs() []int {
	addrs := make([]int, 0, len(b.Closures))
	for pos := range b.Closures {
		addrs = append(addrs, pos)
	}
	sort.Ints(addrs)
	return addrs
}

func (b *Block) disconnect() {
	b.SetNext(nil)
	b.SetBranch(nil)
}

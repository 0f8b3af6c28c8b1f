package cfg_test

import (
	"testing"

	"github.com/chazu/sqdis/bytecode"
	"github.com/chazu/sqdis/bytecode/bctest"
	"github.com/chazu/sqdis/cfg"
)

func ins(op bytecode.Opcode, arg0 uint8, arg1 int32) bytecode.Instruction {
	return bctest.I(op, arg0, arg1, 0, 0)
}

func span(b *cfg.Block) [2]int { return [2]int{b.First, b.Last} }

func liveSpans(g *cfg.Graph) [][2]int {
	var out [][2]int
	for _, b := range g.Ordered() {
		out = append(out, span(b))
	}
	return out
}

func equalSpans(a, b [][2]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIfWithDeadBody(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpJz, 1, 2),      // 0: if !x goto 3
		ins(bytecode.OpJmp, 0, 1),     // 1: goto 3
		ins(bytecode.OpLoadInt, 2, 7), // 2: unreachable
		ins(bytecode.OpReturn, 0xFF, 0),
	)
	g := cfg.Build(p)

	want := [][2]int{{0, 0}, {1, 1}, {3, 3}}
	if got := liveSpans(g); !equalSpans(got, want) {
		t.Fatalf("live blocks = %v, want %v", got, want)
	}
	root := g.Root
	if root.Next() == nil || root.Next().First != 1 {
		t.Errorf("root.Next = %v", root.Next())
	}
	if root.Branch() == nil || root.Branch().First != 3 {
		t.Errorf("root.Branch = %v", root.Branch())
	}

	var dead *cfg.Block
	for _, b := range g.Blocks {
		if b.Dead() {
			dead = b
		}
	}
	if dead == nil || dead.First != 2 {
		t.Fatalf("expected block [2,2] to be dead, got %v", dead)
	}
	if dead.Next() != nil || dead.Branch() != nil {
		t.Error("dead block keeps outgoing edges")
	}
	join := root.Branch()
	if join.NumParents() != 2 || !join.HasParent(root) || !join.HasParent(root.Next()) {
		t.Errorf("join parents = %v", join.Parents())
	}
	if _, ok := g.BlockAt(2); ok {
		t.Error("dead block still reachable through BlockAt")
	}
}

func TestJumpToNextInstructionIsElided(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpLoadInt, 1, 1),
		ins(bytecode.OpJmp, 0, 0),
		ins(bytecode.OpReturn, 1, 1),
	)
	g := cfg.Build(p)
	if got := liveSpans(g); !equalSpans(got, [][2]int{{0, 2}}) {
		t.Fatalf("blocks = %v, want a single block", got)
	}
}

func TestConditionalJumpEdges(t *testing.T) {
	tests := []struct {
		op     bytecode.Opcode
		off    int32
		spans  [][2]int
		branch int
	}{
		{bytecode.OpJz, 2, [][2]int{{0, 1}, {2, 3}, {4, 4}}, 4},
		{bytecode.OpJCmp, 2, [][2]int{{0, 1}, {2, 3}, {4, 4}}, 4},
		{bytecode.OpForEach, 2, [][2]int{{0, 1}, {2, 3}, {4, 4}}, 4},
		{bytecode.OpJCmp, 1, [][2]int{{0, 1}, {2, 2}, {3, 4}}, 3},
		{bytecode.OpForEach, 1, [][2]int{{0, 1}, {2, 2}, {3, 4}}, 3},
		{bytecode.OpJz, 0, [][2]int{{0, 4}}, -1},
		{bytecode.OpJCmp, 0, [][2]int{{0, 4}}, -1},
		{bytecode.OpForEach, 0, [][2]int{{0, 4}}, -1},
	}
	for _, tt := range tests {
		p := bctest.Func("f", nil,
			ins(bytecode.OpLoadInt, 1, 0),
			bctest.I(tt.op, 1, tt.off, 2, 3),
			ins(bytecode.OpLoadInt, 2, 1),
			ins(bytecode.OpLoadInt, 3, 2),
			ins(bytecode.OpReturn, 0xFF, 0),
		)
		g := cfg.Build(p)
		if got := liveSpans(g); !equalSpans(got, tt.spans) {
			t.Errorf("%v %+d: blocks = %v, want %v", tt.op, tt.off, got, tt.spans)
			continue
		}
		if tt.branch < 0 {
			if g.Root.Next() != nil || g.Root.Branch() != nil {
				t.Errorf("%v %+d: elided jump left edges", tt.op, tt.off)
			}
			continue
		}
		if n := g.Root.Next(); n == nil || n.First != 2 {
			t.Errorf("%v %+d: next = %v, want block at 2", tt.op, tt.off, n)
		}
		if b := g.Root.Branch(); b == nil || b.First != tt.branch {
			t.Errorf("%v %+d: branch = %v, want block at %d", tt.op, tt.off, b, tt.branch)
		}
	}
}

func TestPostForEachDoesNotEndBlock(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpLoadInt, 1, 0),
		ins(bytecode.OpPostForEach, 1, 3),
		ins(bytecode.OpLoadInt, 2, 1),
		ins(bytecode.OpLoadInt, 3, 2),
		ins(bytecode.OpReturn, 0xFF, 0),
	)
	g := cfg.Build(p)
	if got := liveSpans(g); !equalSpans(got, [][2]int{{0, 4}}) {
		t.Fatalf("blocks = %v, want a single block", got)
	}
	if g.Root.Next() != nil || g.Root.Branch() != nil {
		t.Error("PostForEach produced an edge")
	}
	if target, ok := p.Instructions[1].Target(); !ok || target != 4 {
		t.Errorf("Target() = %d, %v; want 4, true", target, ok)
	}
}

func TestBackwardJumpSplitsBlock(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpLoadInt, 1, 0),   // 0
		ins(bytecode.OpLoadInt, 2, 1),   // 1: loop head
		ins(bytecode.OpJz, 2, 1),        // 2: exit to 4
		ins(bytecode.OpJmp, 0, -3),      // 3: back to 1
		ins(bytecode.OpReturn, 0xFF, 0), // 4
	)
	g := cfg.Build(p)

	want := [][2]int{{0, 0}, {1, 2}, {3, 3}, {4, 4}}
	if got := liveSpans(g); !equalSpans(got, want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	head := g.Lookup(2)
	if head == nil || head.First != 1 {
		t.Fatalf("Lookup(2) = %v", head)
	}
	if g.Root.Next() != head || g.Root.Branch() != nil {
		t.Error("head of the split should fall into the tail")
	}
	if head.Next() == nil || head.Next().First != 3 || head.Branch() == nil || head.Branch().First != 4 {
		t.Errorf("tail did not inherit edges: next=%v branch=%v", head.Next(), head.Branch())
	}
	latch, _ := g.BlockAt(3)
	if latch.Next() != head {
		t.Error("back edge should target the split block")
	}
	if head.NumParents() != 2 {
		t.Errorf("loop head parents = %d, want 2", head.NumParents())
	}
}

func TestSplitOfCurrentBlockBreaksSelfLoop(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpLoadInt, 1, 0),
		ins(bytecode.OpLoadInt, 2, 1),
		ins(bytecode.OpJmp, 0, -2), // to 1
	)
	g := cfg.Build(p)

	want := [][2]int{{0, 0}, {1, 2}}
	if got := liveSpans(g); !equalSpans(got, want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	tail, _ := g.BlockAt(1)
	if tail.Next() != nil || tail.Branch() != nil {
		t.Error("self loop not removed")
	}
	if !tail.HasParent(g.Root) || tail.HasParent(tail) {
		t.Errorf("tail parents = %v", tail.Parents())
	}
}

func TestPruneIsTransitive(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpJmp, 0, 2),       // 0: to 3
		ins(bytecode.OpLoadInt, 1, 0),   // 1: dead
		ins(bytecode.OpJmp, 0, 1),       // 2: dead, to 4
		ins(bytecode.OpReturn, 0xFF, 0), // 3
		ins(bytecode.OpReturn, 0xFF, 0), // 4: only reachable from dead code
	)
	g := cfg.Build(p)
	want := [][2]int{{0, 0}, {3, 3}}
	if got := liveSpans(g); !equalSpans(got, want) {
		t.Fatalf("blocks = %v, want %v", got, want)
	}
	deadCount := 0
	for _, b := range g.Blocks {
		if b.Dead() {
			deadCount++
		}
	}
	if deadCount != 2 {
		t.Errorf("dead blocks = %d, want 2", deadCount)
	}
}

func TestOutOfRangeTarget(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpJz, 1, 40),
		ins(bytecode.OpReturn, 0xFF, 0),
	)
	g := cfg.Build(p)
	if g.Root.Branch() != nil {
		t.Error("out of range branch should have no edge")
	}
	if g.Root.Next() == nil || g.Root.Next().First != 1 {
		t.Errorf("root.Next = %v", g.Root.Next())
	}
}

func TestReturnEndsBlock(t *testing.T) {
	p := bctest.Func("f", nil,
		ins(bytecode.OpReturn, 0xFF, 0),
		ins(bytecode.OpReturn, 0xFF, 0),
	)
	g := cfg.Build(p)
	if g.Root.Last != 0 || g.Root.Next() != nil {
		t.Errorf("root = [%d,%d] next=%v", g.Root.First, g.Root.Last, g.Root.Next())
	}
	if got := len(g.Ordered()); got != 1 {
		t.Errorf("live blocks = %d, want 1", got)
	}
}

func TestEmptyFunction(t *testing.T) {
	g := cfg.Build(bctest.Func("f", nil))
	if g.Root == nil || g.Root.Len() != 0 {
		t.Fatalf("root = %+v", g.Root)
	}
	if len(g.Root.Instructions()) != 0 {
		t.Error("empty root has instructions")
	}
}

func TestClosureGraphs(t *testing.T) {
	inner := bctest.Func("inner", nil, ins(bytecode.OpReturn, 0xFF, 0))
	p := bctest.Nest(bctest.Func("main", nil,
		ins(bytecode.OpClosure, 1, 0),
		ins(bytecode.OpClosure, 2, 5), // no such function
		ins(bytecode.OpReturn, 0xFF, 0),
	), inner)
	g := cfg.Build(p)

	if len(g.Closures) != 1 || g.Closures[0].Pos != 0 {
		t.Fatalf("closures = %+v", g.Closures)
	}
	sub := g.Root.Closures[0]
	if sub == nil || sub.Proto != inner || sub.Parent != g {
		t.Fatalf("root closure graph = %+v", sub)
	}
	if addrs := g.Root.ClosureAddrs(); len(addrs) != 1 || addrs[0] != 0 {
		t.Errorf("ClosureAddrs = %v", addrs)
	}

	var count int
	g.Walk(func(*cfg.Graph) { count++ })
	if count != 2 {
		t.Errorf("Walk visited %d graphs, want 2", count)
	}
}

func TestSplitMovesClosures(t *testing.T) {
	inner := bctest.Func("inner", nil, ins(bytecode.OpReturn, 0xFF, 0))
	p := bctest.Nest(bctest.Func("main", nil,
		ins(bytecode.OpLoadInt, 1, 0), // 0
		ins(bytecode.OpClosure, 2, 0), // 1
		ins(bytecode.OpJz, 1, 0),      // 2: elided, falls to 3
		ins(bytecode.OpJz, 1, -3),     // 3: to 1
		ins(bytecode.OpReturn, 0xFF, 0),
	), inner)
	g := cfg.Build(p)

	tail, ok := g.BlockAt(1)
	if !ok {
		t.Fatalf("no block at 1: %v", liveSpans(g))
	}
	if _, ok := tail.Closures[1]; !ok {
		t.Error("closure did not move to the split block")
	}
	if len(g.Root.Closures) != 0 {
		t.Error("closure left behind in the head block")
	}
}

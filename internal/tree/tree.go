// Package tree implements the rooted binary tree and branch-segment
// graph of §4.3: a fixed post-order set of nodes, each edge optionally
// subdivided into fixed-length segments, each segment carrying a
// per-position substitution record.
//
// Ownership follows the design note in §9: the Tree uniquely owns
// every Node and BranchSegment. Sequence data lives in the alignment
// packages and is looked up by node name, never stored here.
package tree

import (
	"fmt"
	"math"
	"math/rand"

	"raoteh/internal/errs"
	"raoteh/internal/msa"
)

// SubstitutionRecord is the per-position, per-domain event record a
// branch segment carries, per §3.
type SubstitutionRecord struct {
	Occurred     bool
	AncState     int8
	DecState     int8
	RateVectorID string
}

// BranchSegment is one subdivision of a phylogenetic edge.
type BranchSegment struct {
	ID         string
	Length     float64
	Ancestor   *Node
	Descendant *Node
	// Records[domainName] is a slice of length n_columns.
	Records map[string][]SubstitutionRecord
}

// Node is a tree node: a tip (no children) or an internal node with a
// left child and optionally a right child (unary internal permitted).
type Node struct {
	Name     string
	Parent   *Node
	Children []*Node
	Up       *BranchSegment // nil at the root
	Down     []*BranchSegment
}

// IsTip reports whether n has no children.
func (n *Node) IsTip() bool { return len(n.Children) == 0 }

// Left returns the first child, or nil for a tip.
func (n *Node) Left() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

// Right returns the second child, or nil for a tip or unary internal.
func (n *Node) Right() *Node {
	if len(n.Children) < 2 {
		return nil
	}
	return n.Children[1]
}

// LeftBranch returns the segment above the left child, or nil.
func (n *Node) LeftBranch() *BranchSegment {
	if len(n.Down) == 0 {
		return nil
	}
	return n.Down[0]
}

// RightBranch returns the segment above the right child, or nil.
func (n *Node) RightBranch() *BranchSegment {
	if len(n.Down) < 2 {
		return nil
	}
	return n.Down[1]
}

// neighbors returns every adjacent node: the parent (if any) and every
// child, used to walk the tree as an undirected graph.
func (n *Node) neighbors() []*Node {
	out := make([]*Node, 0, len(n.Children)+1)
	if n.Parent != nil {
		out = append(out, n.Parent)
	}
	out = append(out, n.Children...)
	return out
}

// SplitPolicy decides how many segments (and what length each gets)
// an edge of the given length is subdivided into.
type SplitPolicy interface {
	Split(length, maxSegLen float64) []float64
}

// UniformSplit is the default policy of §4.3: ceil(d/max) segments of
// equal length d/n.
type UniformSplit struct{}

// Split implements SplitPolicy.
func (UniformSplit) Split(length, maxSegLen float64) []float64 {
	if length <= 0 {
		return []float64{0}
	}
	n := int(math.Ceil(length / maxSegLen))
	if n < 1 {
		n = 1
	}
	each := length / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = each
	}
	return out
}

// Tree is the rooted binary tree plus branch-segment graph.
type Tree struct {
	Root      *Node
	postOrder []*Node
	branches  []*BranchSegment
	rng       *rand.Rand
}

// nameGenerator synthesizes unique names for internal nodes created by
// edge splitting or left unnamed in the input Newick string, per §4.3.
type nameGenerator struct{ next int }

func (g *nameGenerator) nextSplit() string {
	g.next++
	return fmt.Sprintf("__split_%d", g.next)
}

// nextNode synthesizes a name for an internal (or root) node the
// Newick input left unlabeled, mirroring the original's auto-generated
// "Node"+id scheme (TreeParts.cpp's TreeNode()).
func (g *nameGenerator) nextNode() string {
	g.next++
	return fmt.Sprintf("__node_%d", g.next)
}

// Build converts a raw tree (§6 input shape) into the internal
// structure, splitting every edge per the given policy and maximum
// segment length, and seeding the tree's private RNG.
func Build(raw msa.RawTree, maxSegLen float64, policy SplitPolicy, seed int64) (*Tree, error) {
	if maxSegLen <= 0 {
		return nil, &errs.ConfigError{Key: "MODEL.max_segment_length", Reason: "must be positive"}
	}
	gen := &nameGenerator{}
	t := &Tree{rng: rand.New(rand.NewSource(seed))}
	root, err := t.buildNode(raw, nil, maxSegLen, policy, gen)
	if err != nil {
		return nil, err
	}
	t.Root = root
	t.postOrder = postOrder(root)
	if err := checkUniqueNames(t.postOrder); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) buildNode(raw msa.RawTree, parent *Node, maxSegLen float64, policy SplitPolicy, gen *nameGenerator) (*Node, error) {
	name := raw.Name
	if name == "" && !raw.IsLeaf() {
		name = gen.nextNode()
	}
	n := &Node{Name: name, Parent: parent}
	if !raw.IsLeaf() && len(raw.Children) > 2 {
		return nil, &errs.SchemaError{Context: "tree build", Reason: fmt.Sprintf("node %q has %d children, want at most 2", raw.Name, len(raw.Children))}
	}
	for _, rc := range raw.Children {
		child, err := t.buildNode(rc, n, maxSegLen, policy, gen)
		if err != nil {
			return nil, err
		}
		if _, err := t.attachChild(n, child, rc.Distance, maxSegLen, policy, gen); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// attachChild builds the (possibly multi-segment) chain of branch
// segments connecting parent to child, subdividing per policy, wiring
// every intermediate ancestor's Children/Down as it goes, and returns
// the first segment below parent.
func (t *Tree) attachChild(parent, child *Node, distance, maxSegLen float64, policy SplitPolicy, gen *nameGenerator) (*BranchSegment, error) {
	lengths := policy.Split(distance, maxSegLen)
	cur := parent
	var first *BranchSegment
	for i, segLen := range lengths {
		var descendant *Node
		if i == len(lengths)-1 {
			descendant = child
		} else {
			descendant = &Node{Name: gen.nextSplit(), Parent: cur}
		}
		seg := &BranchSegment{
			ID:         fmt.Sprintf("%s->%s", cur.Name, descendant.Name),
			Length:     segLen,
			Ancestor:   cur,
			Descendant: descendant,
			Records:    make(map[string][]SubstitutionRecord),
		}
		descendant.Up = seg
		descendant.Parent = cur
		cur.Children = append(cur.Children, descendant)
		cur.Down = append(cur.Down, seg)
		t.branches = append(t.branches, seg)
		if first == nil {
			first = seg
		}
		cur = descendant
	}
	return first, nil
}

func postOrder(root *Node) []*Node {
	var out []*Node
	var visit func(n *Node)
	visit = func(n *Node) {
		for _, c := range n.Children {
			visit(c)
		}
		out = append(out, n)
	}
	visit(root)
	return out
}

func checkUniqueNames(nodes []*Node) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return &errs.SchemaError{Context: "tree build", Reason: "node with empty name"}
		}
		if seen[n.Name] {
			return &errs.SchemaError{Context: "tree build", Reason: fmt.Sprintf("duplicate node name %q", n.Name)}
		}
		seen[n.Name] = true
	}
	return nil
}

// Nodes returns the fixed post-order node list: children before
// parents.
func (t *Tree) Nodes() []*Node { return t.postOrder }

// PreOrder returns the reverse of the post-order list, used by the
// downward pass of §4.4.3.
func (t *Tree) PreOrder() []*Node {
	out := make([]*Node, len(t.postOrder))
	for i, n := range t.postOrder {
		out[len(out)-1-i] = n
	}
	return out
}

// InternalNodes returns every node with at least one child.
func (t *Tree) InternalNodes() []*Node {
	var out []*Node
	for _, n := range t.postOrder {
		if !n.IsTip() {
			out = append(out, n)
		}
	}
	return out
}

// RandNode picks a node uniformly, including tips, per the Open
// Question resolution recorded in SPEC_FULL.md.
func (t *Tree) RandNode() *Node {
	return t.postOrder[t.rng.Intn(len(t.postOrder))]
}

// Rand exposes the tree's private RNG for callers that need
// deterministic draws in the same sequence as tree operations (the
// single process-wide seed requirement of §5).
func (t *Tree) Rand() *rand.Rand { return t.rng }

// GetBranches returns every segment in construction order, a stable
// order for enumeration.
func (t *Tree) GetBranches() []*BranchSegment { return t.branches }

// GetRecursionPath returns a traversal order visiting every node
// reachable from start, expanding outward so each visited node
// (except start) has at least one already-visited neighbour. This
// backs the sampling pass of §4.4.3.
func GetRecursionPath(start *Node) []*Node {
	visited := make(map[*Node]bool)
	order := []*Node{start}
	visited[start] = true
	queue := []*Node{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range cur.neighbors() {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			order = append(order, nb)
			queue = append(queue, nb)
		}
	}
	return order
}

package align

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"raoteh/internal/domain"
	"raoteh/internal/errs"
	"raoteh/internal/ratevec"
	"raoteh/internal/tree"
)

// Model binds the tree, every registered state domain's Alignment,
// and the rate-vector store together: the object the marginal
// computation and three-recursion sampler of §4.4 actually operate
// on, since those formulas reach across domains for context.
type Model struct {
	Tree       *tree.Tree
	Alignments map[string]*Alignment // domain name -> alignment
	Store      *ratevec.Store
	U          map[string]float64 // uniformization constant per domain
}

// extendedState builds the ExtendedState of §4.2 at node/pos for every
// domain except exclude, applying override for any domain named in it
// (used to plug in a hypothesized focal state while evaluating a
// non-focal domain's transition probability at the same branch).
func (m *Model) extendedState(node *tree.Node, pos int, exclude string, override map[string]int8) ratevec.ExtendedState {
	ex := make(ratevec.ExtendedState, len(m.Alignments)-1)
	for name, aln := range m.Alignments {
		if name == exclude {
			continue
		}
		if v, ok := override[name]; ok {
			ex[name] = v
			continue
		}
		ex[name] = aln.Sequences[node.Name][pos]
	}
	return ex
}

// nonFocalProduct computes Π_{d != focal} P_d(observed segment event
// at pos | ex_state), per §4.4.2 item 1/2/3, for the branch running
// from ancNode to decNode with the focal domain hypothesized to be in
// state focalAncState at ancNode. SiteStatic domains are skipped: per
// §4.4.6 they contribute only their state to the context other
// domains select on, never a probability factor of their own.
func (m *Model) nonFocalProduct(ancNode, decNode *tree.Node, length float64, pos int, focal string, focalAncState int8) (float64, error) {
	prod := 1.0
	for name, aln := range m.Alignments {
		if name == focal || aln.Tag == SiteStatic {
			continue
		}
		if aln.GapMask[ancNode.Name][pos] || aln.GapMask[decNode.Name][pos] {
			continue
		}
		ancState := aln.Sequences[ancNode.Name][pos]
		decState := aln.Sequences[decNode.Name][pos]
		ex := m.extendedState(ancNode, pos, name, map[string]int8{focal: focalAncState})
		rv, err := m.Store.Select(name, pos, ancState, ex)
		if err != nil {
			return 0, err
		}
		u := m.U[name]
		if ancState == decState {
			prod *= PNoSub(rv.VirtualRate(), length, u)
		} else {
			prod *= PSub(rv.Rate(decState), length, u)
		}
		if prod == 0 {
			return 0, nil
		}
	}
	return prod, nil
}

// transitionFactor returns a function giving, for a focal transition
// from -> to, P_focal(from -> to) * nonFocalProduct evaluated across
// the segment ancNode->decNode, with `from` hypothesized at ancNode. This
// is the building block shared by up/left/right contributions.
func (m *Model) transitionFactor(ancNode, decNode *tree.Node, length float64, pos int, focal string) (func(from, to int8) (float64, error)) {
	return func(from, to int8) (float64, error) {
		ex := m.extendedState(ancNode, pos, focal, map[string]int8{})
		rv, err := m.Store.Select(focal, pos, from, ex)
		if err != nil {
			return 0, err
		}
		u := m.U[focal]
		var base float64
		if from == to {
			base = PNoSub(rv.VirtualRate(), length, u)
		} else {
			base = PSub(rv.Rate(to), length, u)
		}
		if base == 0 {
			return 0, nil
		}
		np, err := m.nonFocalProduct(ancNode, decNode, length, pos, focal, from)
		if err != nil {
			return 0, err
		}
		return base * np, nil
	}
}

// upContribution implements §4.4.2 item 1 for every candidate focal
// state s. Returns a constant-1 vector when there is no parent, or
// the parent is gapped at pos.
func (m *Model) upContribution(focal string, node *tree.Node, pos int) ([]float64, error) {
	n := m.Alignments[focal].Domain.Size()
	out := ones(n)
	if node.Parent == nil {
		return out, nil
	}
	up := node.Parent
	if m.Alignments[focal].GapMask[up.Name][pos] {
		return out, nil
	}
	tf := m.transitionFactor(up, node, node.Up.Length, pos, focal)
	upMarginal := m.Alignments[focal].Marginal[up.Name][pos]
	for s := 0; s < n; s++ {
		var sum float64
		for t := 0; t < n; t++ {
			w := upMarginal[t]
			if w == 0 {
				continue
			}
			f, err := tf(int8(t), int8(s))
			if err != nil {
				return nil, err
			}
			sum += w * f
		}
		out[s] = sum
	}
	return out, nil
}

// childContribution implements §4.4.2 items 2/3 for a single child
// branch (left or right). Returns a constant-1 vector when child is
// nil or gapped at pos.
func (m *Model) childContribution(focal string, node *tree.Node, child *tree.Node, branch *tree.BranchSegment, pos int) ([]float64, error) {
	n := m.Alignments[focal].Domain.Size()
	out := ones(n)
	if child == nil {
		return out, nil
	}
	if m.Alignments[focal].GapMask[child.Name][pos] {
		return out, nil
	}
	tf := m.transitionFactor(node, child, branch.Length, pos, focal)
	childMarginal := m.Alignments[focal].Marginal[child.Name][pos]
	for s := 0; s < n; s++ {
		var sum float64
		for t := 0; t < n; t++ {
			w := childMarginal[t]
			if w == 0 {
				continue
			}
			f, err := tf(int8(s), int8(t))
			if err != nil {
				return nil, err
			}
			sum += w * f
		}
		out[s] = sum
	}
	return out, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// fullMarginal computes marginal[node,pos,*] = up * left * right, per
// §4.4.2. A missing or gapped neighbour contributes a factor of 1; every
// product is computed (there is no early exit on a zero factor), and
// normalisation is left to the caller.
func (m *Model) fullMarginal(focal string, node *tree.Node, pos int) ([]float64, error) {
	up, err := m.upContribution(focal, node, pos)
	if err != nil {
		return nil, err
	}
	left, err := m.childContribution(focal, node, node.Left(), node.LeftBranch(), pos)
	if err != nil {
		return nil, err
	}
	right, err := m.childContribution(focal, node, node.Right(), node.RightBranch(), pos)
	if err != nil {
		return nil, err
	}
	n := len(up)
	out := make([]float64, n)
	for s := 0; s < n; s++ {
		out[s] = up[s] * left[s] * right[s]
	}
	return out, nil
}

// normalize L1-normalises dist in place; a zero-sum distribution is
// left as all zeros (an impossible position), per §4.4.2.
func normalize(dist []float64) {
	sum := floats.Sum(dist)
	if sum == 0 {
		return
	}
	floats.Scale(1/sum, dist)
}

// UpwardPass implements §4.4.3 step 1: reset tip marginals to their
// prior and compute internal-node marginals from children only.
func (m *Model) UpwardPass(focal string, positions []int) error {
	aln := m.Alignments[focal]
	for _, n := range m.Tree.Nodes() {
		if n.IsTip() {
			for _, pos := range positions {
				copy(aln.Marginal[n.Name][pos], aln.Prior[n.Name][pos])
			}
			continue
		}
		for _, pos := range positions {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			left, err := m.childContribution(focal, n, n.Left(), n.LeftBranch(), pos)
			if err != nil {
				return err
			}
			right, err := m.childContribution(focal, n, n.Right(), n.RightBranch(), pos)
			if err != nil {
				return err
			}
			dist := aln.Marginal[n.Name][pos]
			for s := range dist {
				dist[s] = left[s] * right[s]
			}
			normalize(dist)
		}
	}
	return nil
}

// DownwardPass implements §4.4.3 step 2: multiply each non-root node's
// below-marginal by its parent's up-contribution, skipping the root.
func (m *Model) DownwardPass(focal string, positions []int) error {
	aln := m.Alignments[focal]
	for _, n := range m.Tree.PreOrder() {
		if n.Parent == nil {
			continue
		}
		for _, pos := range positions {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			up, err := m.upContribution(focal, n, pos)
			if err != nil {
				return err
			}
			dist := aln.Marginal[n.Name][pos]
			for s := range dist {
				dist[s] *= up[s]
			}
			normalize(dist)
		}
	}
	return nil
}

// drawFromCDF implements inverse-CDF sampling from dist using u. Per
// the recorded Open Question resolution, rounding past the CDF's end
// silently selects the last state rather than re-normalising.
func drawFromCDF(dist []float64, u float64) int8 {
	cum := 0.0
	for i, p := range dist {
		cum += p
		if cum >= u {
			return int8(i)
		}
	}
	return int8(len(dist) - 1)
}

// SamplingPass implements §4.4.3 step 3: the three-recursion outward
// resample starting from a random node.
func (m *Model) SamplingPass(focal string, positions []int, rng *rand.Rand) error {
	aln := m.Alignments[focal]
	start := m.Tree.RandNode()
	for _, n := range tree.GetRecursionPath(start) {
		for _, pos := range positions {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			var dist []float64
			var err error
			if n.IsTip() {
				dist, err = m.fastTipMarginal(focal, n, pos)
			} else {
				dist, err = m.fullMarginal(focal, n, pos)
			}
			if err != nil {
				return err
			}
			normalize(dist)
			if floats.Sum(dist) == 0 {
				return &errs.GraphError{Context: fmt.Sprintf("sampling pass domain %s", focal), Reason: fmt.Sprintf("node %s position %d has zero-probability marginal", n.Name, pos)}
			}
			state := drawFromCDF(dist, rng.Float64())
			aln.Sequences[n.Name][pos] = state
			collapse(aln.Marginal[n.Name][pos], state)
		}
	}
	return nil
}

// fastTipMarginal is the "fast tip-only update" of §4.4.3: a tip has
// no children, so its marginal is just its prior weighted by the
// up-contribution from its (already-resampled) parent.
func (m *Model) fastTipMarginal(focal string, tip *tree.Node, pos int) ([]float64, error) {
	up, err := m.upContribution(focal, tip, pos)
	if err != nil {
		return nil, err
	}
	prior := m.Alignments[focal].Prior[tip.Name][pos]
	out := make([]float64, len(up))
	for i := range out {
		out[i] = up[i] * prior[i]
	}
	return out, nil
}

func collapse(dist []float64, state int8) {
	for i := range dist {
		if int8(i) == state {
			dist[i] = 1
		} else {
			dist[i] = 0
		}
	}
}

// TwoRecursionSample implements the simpler two-recursion variant of
// §4.4.3: after the down pass, sample every node in pre-order from
// its own marginal, without re-expanding from a random seed.
func (m *Model) TwoRecursionSample(focal string, positions []int, rng *rand.Rand) error {
	aln := m.Alignments[focal]
	for _, n := range m.Tree.PreOrder() {
		if n.IsTip() {
			continue
		}
		for _, pos := range positions {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			dist := append([]float64(nil), aln.Marginal[n.Name][pos]...)
			if floats.Sum(dist) == 0 {
				return &errs.GraphError{Context: fmt.Sprintf("two-recursion sample domain %s", focal), Reason: fmt.Sprintf("node %s position %d has zero-probability marginal", n.Name, pos)}
			}
			state := drawFromCDF(dist, rng.Float64())
			aln.Sequences[n.Name][pos] = state
			collapse(aln.Marginal[n.Name][pos], state)
		}
	}
	return nil
}

// GibbsSample runs the full three-recursion (or two-recursion, when
// tripleRecursion is false) Gibbs update for one domain over the
// given positions, per §4.4.3 and the `triple_recursion` config flag.
func (m *Model) GibbsSample(focal string, positions []int, tripleRecursion bool, rng *rand.Rand) error {
	if m.Alignments[focal].Tag == SiteStatic {
		return nil
	}
	if err := m.UpwardPass(focal, positions); err != nil {
		return err
	}
	if err := m.DownwardPass(focal, positions); err != nil {
		return err
	}
	if tripleRecursion {
		return m.SamplingPass(focal, positions, rng)
	}
	return m.TwoRecursionSample(focal, positions, rng)
}

// ParsimonyInit seeds ancestral states at internal nodes per site by
// the greedy clade-majority scheme of §4.4.4: bottom-up union of
// child clade-state sets, top-down majority vote with ties broken
// toward the parent's state (numerically-lowest tied code at the
// root, per the recorded Open Question resolution).
func (m *Model) ParsimonyInit(focal string) error {
	aln := m.Alignments[focal]
	clade := make(map[*tree.Node][][]int8) // node -> per-position clade state multiset

	for _, n := range m.Tree.Nodes() {
		clade[n] = make([][]int8, aln.NColumns)
		if n.IsTip() {
			for pos := 0; pos < aln.NColumns; pos++ {
				if aln.GapMask[n.Name][pos] {
					continue
				}
				clade[n][pos] = []int8{aln.Sequences[n.Name][pos]}
			}
			continue
		}
		for pos := 0; pos < aln.NColumns; pos++ {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			var union []int8
			for _, c := range n.Children {
				union = append(union, clade[c][pos]...)
			}
			clade[n][pos] = union
		}
	}

	for _, n := range m.Tree.PreOrder() {
		if n.IsTip() {
			continue
		}
		for pos := 0; pos < aln.NColumns; pos++ {
			if aln.GapMask[n.Name][pos] {
				continue
			}
			parentState := domain.Gap
			if n.Parent != nil {
				parentState = aln.Sequences[n.Parent.Name][pos]
			}
			aln.Sequences[n.Name][pos] = majority(clade[n][pos], parentState)
		}
	}
	return nil
}

// LogLikelihood recomputes the total log-likelihood from scratch, per
// §4.5: the sum, over every Dynamic domain and every branch segment,
// of the log uniformization transition probability between that
// segment's current ancestral and descendant states. SiteStatic
// domains contribute no likelihood term; they only supply context to
// other domains' extended states. The root's own state contributes no
// separate prior term here, since the driver only needs relative
// likelihood across proposals that never touch root-state assignment
// directly (tree/sequence Gibbs recomputes it via the sampler, not via
// this sum).
func (m *Model) LogLikelihood(positions []int) (float64, error) {
	total := 0.0
	for name, aln := range m.Alignments {
		if aln.Tag == SiteStatic {
			continue
		}
		u := m.U[name]
		for _, pos := range positions {
			for _, seg := range m.Tree.GetBranches() {
				anc, dec := seg.Ancestor, seg.Descendant
				if aln.GapMask[anc.Name][pos] || aln.GapMask[dec.Name][pos] {
					continue
				}
				ancState := aln.Sequences[anc.Name][pos]
				decState := aln.Sequences[dec.Name][pos]
				ex := m.extendedState(anc, pos, name, nil)
				rv, err := m.Store.Select(name, pos, ancState, ex)
				if err != nil {
					return 0, err
				}
				var p float64
				if ancState == decState {
					p = PNoSub(rv.VirtualRate(), seg.Length, u)
				} else {
					p = PSub(rv.Rate(decState), seg.Length, u)
				}
				if p <= 0 {
					return math.Inf(-1), nil
				}
				total += math.Log(p)
			}
		}
	}
	return total, nil
}

// UpdateSubstitutionRecords recomputes every branch segment's
// per-position substitution record for focal from the current
// ancestral/descendant sequence assignment, grounded on the original's
// BranchSegment::updateStats/virtualSubstituionQ: it walks anc/dec
// states after a sampling pass and records every net-changing event;
// where anc and dec agree it stochastically draws whether a virtual
// self-substitution occurred, via PVirtualGivenNoSub, rather than
// declaring one unconditionally. SiteStatic domains never change and
// are skipped.
func (m *Model) UpdateSubstitutionRecords(focal string, rng *rand.Rand) error {
	aln := m.Alignments[focal]
	if aln.Tag == SiteStatic {
		return nil
	}
	for _, seg := range m.Tree.GetBranches() {
		if seg.Records[focal] == nil {
			seg.Records[focal] = make([]tree.SubstitutionRecord, aln.NColumns)
		}
		anc, dec := seg.Ancestor, seg.Descendant
		for pos := 0; pos < aln.NColumns; pos++ {
			if aln.GapMask[anc.Name][pos] || aln.GapMask[dec.Name][pos] {
				continue
			}
			ancState := aln.Sequences[anc.Name][pos]
			decState := aln.Sequences[dec.Name][pos]
			ex := m.extendedState(anc, pos, focal, nil)
			rv, err := m.Store.Select(focal, pos, ancState, ex)
			if err != nil {
				return err
			}
			u := m.U[focal]
			occurred := ancState != decState
			if !occurred {
				pVirt := PVirtualGivenNoSub(rv.VirtualRate(), seg.Length, u)
				occurred = rng.Float64() < pVirt
			}
			seg.Records[focal][pos] = tree.SubstitutionRecord{
				Occurred:     occurred,
				AncState:     ancState,
				DecState:     decState,
				RateVectorID: rv.ID,
			}
		}
	}
	return nil
}

// AllPositions returns 0..NColumns-1 for the widest registered
// alignment, the default position set for a full-tree Gibbs sweep.
func (m *Model) AllPositions() []int {
	n := 0
	for _, aln := range m.Alignments {
		if aln.NColumns > n {
			n = aln.NColumns
		}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// DynamicDomains returns the names of every non-SiteStatic domain, the
// set the MCMC driver's tree/sequence Gibbs step must resample.
func (m *Model) DynamicDomains() []string {
	var out []string
	for name, aln := range m.Alignments {
		if aln.Tag != SiteStatic {
			out = append(out, name)
		}
	}
	return out
}

// majority returns the most frequent state in states, breaking ties
// toward preferred when present among the tied states, else toward
// the numerically-lowest tied state code.
func majority(states []int8, preferred int8) int8 {
	counts := make(map[int8]int)
	for _, s := range states {
		counts[s]++
	}
	best := int8(math.MaxInt8)
	bestCount := -1
	for s, c := range counts {
		switch {
		case c > bestCount:
			bestCount, best = c, s
		case c == bestCount && s == preferred:
			best = s
		case c == bestCount && s < best && best != preferred:
			best = s
		}
	}
	return best
}

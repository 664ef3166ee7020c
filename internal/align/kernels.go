// Package align implements the sequence-alignment object and its
// three-recursion Gibbs sampler over ancestral states, per §4.4. This
// is the largest single component of the core: the uniformization
// likelihood kernels, the marginal-probability computation, and the
// upward/downward/sampling recursions that resample ancestral states
// at every internal tree node.
package align

// PSub is the uniformization substitution probability of §4.4.1 for a
// branch segment of length tb, transition rate r (i != j), and
// uniformization constant u: (r*tb) / (1 + u*tb).
func PSub(r, tb, u float64) float64 {
	return (r * tb) / (1 + u*tb)
}

// PNoSub is the uniformization no-substitution probability of §4.4.1
// (i == j, allowing a virtual self-event) for self-rate r (the
// virtual-substitution rate cell), branch length tb, and
// uniformization constant u.
func PNoSub(r, tb, u float64) float64 {
	pVirt := 1 - 1/(1+r*tb)
	d := 1 / (1 + u*tb)
	return pVirt*(r*tb)*d + (1-pVirt)*d
}

// PVirtualGivenNoSub returns P(a virtual self-event occurred | no net
// state change) for the same branch, splitting PNoSub's two additive
// terms and normalizing the virtual-event term by their sum. Used to
// stochastically draw a virtual substitution when recording a branch
// segment's events, per §4.4.1's virtual-event process.
func PVirtualGivenNoSub(r, tb, u float64) float64 {
	pVirt := 1 - 1/(1+r*tb)
	d := 1 / (1 + u*tb)
	withVirt := pVirt * (r * tb) * d
	withoutVirt := (1 - pVirt) * d
	total := withVirt + withoutVirt
	if total == 0 {
		return 0
	}
	return withVirt / total
}

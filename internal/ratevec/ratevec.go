// Package ratevec implements the rate-vector store: the owner of every
// RateVector, organized per state domain and keyed by ancestral state
// plus extended context for O(1) selection, per §4.2.
package ratevec

import (
	"fmt"
	"sort"
	"strings"

	"raoteh/internal/errs"
	"raoteh/internal/paramgraph"
)

// ExtendedState is a joint state across all registered domains at one
// position: domain name -> state code.
type ExtendedState map[string]int8

// key builds a canonical, order-independent string for use as a map
// key, since Go maps cannot be map keys directly.
func (e ExtendedState) key() string {
	names := make([]string, 0, len(e))
	for n := range e {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%s=%d;", n, e[n])
	}
	return b.String()
}

// RateVector holds the length-N rate cells for one (domain,
// ancestral-state, extended-context) combination. Cells[AncState] is
// the virtual-substitution rate slot, u - sum(others).
type RateVector struct {
	ID       string
	Domain   string
	AncState int8
	Cells    []paramgraph.Value // length N; Cells[AncState] is the derived virtual-rate cell
}

// Rate returns the live rate value from AncState to j.
func (rv *RateVector) Rate(j int8) float64 {
	return rv.Cells[j].Get()
}

// VirtualRate returns the live self-substitution rate.
func (rv *RateVector) VirtualRate() float64 {
	return rv.Cells[rv.AncState].Get()
}

// Validate checks the §3 invariant: sum of off-diagonal rates <= u,
// and the virtual rate itself lies in [0,1].
func (rv *RateVector) Validate(u float64) error {
	sum := 0.0
	for j, cell := range rv.Cells {
		if int8(j) == rv.AncState {
			continue
		}
		sum += cell.Get()
	}
	if sum > u {
		return &errs.NumericError{Context: fmt.Sprintf("rate vector %s off-diagonal sum", rv.ID), Value: sum}
	}
	virt := rv.VirtualRate()
	if virt < 0 || virt > 1 {
		return &errs.NumericError{Context: fmt.Sprintf("rate vector %s virtual rate", rv.ID), Value: virt}
	}
	return nil
}

// Store owns every RateVector, plus an index from rate-vector ID to
// vector. The reverse index from parameter ID to RateVectorLocation
// lives in the bound paramgraph.Graph.
type Store struct {
	graph      *paramgraph.Graph
	byDomain   map[string]map[string]*RateVector // domain -> extended-key(+anc) -> vector
	locateByID map[string]*RateVector
}

// NewStore builds an empty rate-vector store bound to a parameter
// dependency graph.
func NewStore(graph *paramgraph.Graph) *Store {
	return &Store{
		graph:      graph,
		byDomain:   make(map[string]map[string]*RateVector),
		locateByID: make(map[string]*RateVector),
	}
}

func selectionKey(ancState int8, ex ExtendedState) string {
	return fmt.Sprintf("anc=%d;%s", ancState, ex.key())
}

// Add registers a RateVector under its domain, ancestral state, and
// extended context. Add is fatal-on-conflict: a duplicate key for the
// same domain indicates a misconfigured store.
func (s *Store) Add(rv *RateVector, ex ExtendedState) error {
	m, ok := s.byDomain[rv.Domain]
	if !ok {
		m = make(map[string]*RateVector)
		s.byDomain[rv.Domain] = m
	}
	key := selectionKey(rv.AncState, ex)
	if _, dup := m[key]; dup {
		return &errs.GraphError{Context: "rate vector store", Reason: fmt.Sprintf("duplicate context for domain %s: %s", rv.Domain, key)}
	}
	m[key] = rv
	s.locateByID[rv.ID] = rv
	return nil
}

// Select performs the (domain, pos, anc_state, ex_state) lookup of
// §4.2. pos does not participate in the key: the same rate vector is
// reused across every position sharing the same context, matching the
// spec's requirement that the store be pre-configured so every
// reachable context has a vector. Failure is fatal (*errs.GraphError).
func (s *Store) Select(domainName string, pos int, ancState int8, ex ExtendedState) (*RateVector, error) {
	m, ok := s.byDomain[domainName]
	if !ok {
		return nil, &errs.GraphError{Context: "rate vector selection", Reason: fmt.Sprintf("no vectors registered for domain %s", domainName)}
	}
	key := selectionKey(ancState, ex)
	rv, ok := m[key]
	if !ok {
		return nil, &errs.GraphError{Context: "rate vector selection", Reason: fmt.Sprintf("domain %s: no vector for anc=%d ctx=%s (position %d)", domainName, ancState, ex.key(), pos)}
	}
	return rv, nil
}

// OnParameterChanged marks every rate vector referencing parameterID
// stale by refreshing its dependents (derived virtual-rate cells) in
// the parameter graph, then validates every location that parameter
// touches. It returns the first validation failure, if any.
func (s *Store) OnParameterChanged(parameterID string, u float64) error {
	if err := s.graph.RefreshDependents(parameterID); err != nil {
		return err
	}
	for _, loc := range s.graph.Locations(parameterID) {
		rv, ok := s.locateByID[loc.ExtendedID]
		if !ok {
			continue
		}
		if err := rv.Validate(u); err != nil {
			return err
		}
	}
	return nil
}

// Vectors returns every rate vector registered for a domain, in an
// unspecified but stable-within-a-run order (Go map iteration order is
// randomized per process but this is only used for enumeration, never
// for anything order-sensitive).
func (s *Store) Vectors(domainName string) []*RateVector {
	m := s.byDomain[domainName]
	out := make([]*RateVector, 0, len(m))
	for _, rv := range m {
		out = append(out, rv)
	}
	return out
}

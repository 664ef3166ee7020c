// Package mcmc implements the MCMC Driver of §4.5: the generation
// loop that alternates tree/sequence Gibbs sampling with substitution-
// model parameter proposals, accepts Gibbs moves unconditionally and
// parameter moves by Metropolis-Hastings, and fails fatally on a NaN
// log-likelihood. Grounded on the teacher's chain.Run/update loop
// (mcmc.go) and the polymorphic value node design note (§9).
package mcmc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"raoteh/internal/align"
	"raoteh/internal/config"
	"raoteh/internal/errs"
	"raoteh/internal/output"
	"raoteh/internal/paramgraph"
	"raoteh/internal/runlog"
)

// proposalWindow is the sliding-window width for a sampleable
// parameter proposal, carried over unchanged from the teacher's
// getProposedBrlens (mcmc.go: 0.2).
const proposalWindow = 0.2

// Driver holds everything the generation loop touches: the current
// model state, the parameter graph, the running log-likelihood, and
// where to record and log progress.
type Driver struct {
	Model *align.Model
	Graph *paramgraph.Graph
	Cfg   *config.Config
	Out   *output.Bundle
	Log   *runlog.Logger
	RNG   *rand.Rand

	Gen int
	LnL float64

	accepted float64
	proposed float64
}

// New builds a Driver and computes the starting log-likelihood from
// scratch.
func New(model *align.Model, graph *paramgraph.Graph, cfg *config.Config, out *output.Bundle, log *runlog.Logger, rng *rand.Rand) (*Driver, error) {
	lnL, err := model.LogLikelihood(model.AllPositions())
	if err != nil {
		return nil, err
	}
	return &Driver{Model: model, Graph: graph, Cfg: cfg, Out: out, Log: log, RNG: rng, LnL: lnL}, nil
}

// Run executes the full generation loop, per §4.5's State/Loop, until
// MCMC.generations is reached or ctx is cancelled between generations.
func (d *Driver) Run(ctx context.Context) error {
	for gen := 1; gen <= d.Cfg.MCMC.Generations; gen++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d.Gen = gen
		var err error
		if gen%d.Cfg.MCMC.TreeSampleFrequency == 0 {
			err = d.gibbsStep()
		} else {
			err = d.metropolisStep()
		}
		if err != nil {
			return err
		}

		if math.IsNaN(d.LnL) {
			return &errs.NumericError{Context: "mcmc driver log-likelihood", Value: d.LnL}
		}

		if gen%d.Cfg.MCMC.OutputFrequency == 0 {
			if err := d.record(gen); err != nil {
				return err
			}
		}
		if gen%d.Cfg.MCMC.PrintFrequency == 0 && d.Log != nil {
			ratio := 1.0
			if d.proposed > 0 {
				ratio = d.accepted / d.proposed
			}
			d.Log.Progress(gen, d.Cfg.MCMC.Generations, ratio)
		}
	}
	return nil
}

// gibbsStep resamples a random subset of positions across every
// dynamic domain via the three-recursion (or two-recursion) sampler,
// then recomputes lnL from scratch, always accepting per §4.5.
func (d *Driver) gibbsStep() error {
	positions := d.samplePositions()
	for _, name := range d.Model.DynamicDomains() {
		if err := d.Model.GibbsSample(name, positions, d.Cfg.MCMC.TripleRecursion, d.RNG); err != nil {
			return err
		}
	}
	lnL, err := d.Model.LogLikelihood(d.Model.AllPositions())
	if err != nil {
		return err
	}
	d.LnL = lnL
	d.accepted++
	d.proposed++
	return nil
}

// samplePositions draws MCMC.position_sample_count distinct column
// indices without replacement, per §4.8.
func (d *Driver) samplePositions() []int {
	all := d.Model.AllPositions()
	n := d.Cfg.MCMC.PositionSampleCount
	if n >= len(all) {
		return all
	}
	perm := d.RNG.Perm(len(all))[:n]
	out := make([]int, n)
	for i, idx := range perm {
		out[i] = all[idx]
	}
	return out
}

// metropolisStep proposes a move against one randomly chosen
// sampleable substitution-model parameter and accepts or rejects it
// by the Metropolis-Hastings ratio, rolling the parameter (and every
// derived rate cell depending on it) back on rejection. A move that
// pushes a derived virtual-rate cell out of [0,1] is rolled back and
// counted as a rejected proposal.
func (d *Driver) metropolisStep() error {
	pool := d.Graph.SampleableValues()
	if len(pool) == 0 {
		return nil
	}
	choice := pool[d.RNG.Intn(len(pool))]
	oldLnL := d.LnL

	proposalRatio, undo := choice.Propose(d.RNG, proposalWindow)
	if err := d.Graph.RefreshDependents(choice.ID()); err != nil {
		undo()
		if rerr := d.Graph.RefreshDependents(choice.ID()); rerr != nil {
			return rerr
		}
		var numErr *errs.NumericError
		if errors.As(err, &numErr) {
			d.proposed++
			return nil
		}
		return err
	}

	newLnL, err := d.Model.LogLikelihood(d.Model.AllPositions())
	if err != nil {
		undo()
		d.Graph.RefreshDependents(choice.ID())
		return err
	}

	d.proposed++
	ratio := math.Exp(newLnL-oldLnL) * proposalRatio
	if d.RNG.Float64() < ratio {
		d.LnL = newLnL
		d.accepted++
		return nil
	}
	undo()
	if err := d.Graph.RefreshDependents(choice.ID()); err != nil {
		return err
	}
	d.LnL = oldLnL
	return nil
}

// record delegates per-model recording to the output bundle: the
// likelihood row always, and sequences/substitutions/rate vectors for
// every dynamic domain, per §4.5's "delegate per-model recording".
func (d *Driver) record(gen int) error {
	if err := d.Out.Likelihood.Record(d.Gen, gen, d.LnL); err != nil {
		return err
	}
	totalSubs := 0
	for _, name := range d.Model.DynamicDomains() {
		aln := d.Model.Alignments[name]
		if err := d.Model.UpdateSubstitutionRecords(name, d.RNG); err != nil {
			return err
		}

		nodes := d.Model.Tree.Nodes()
		names := make([]string, len(nodes))
		seqs := make([]string, len(nodes))
		for i, n := range nodes {
			seq, err := aln.DecodeSequence(n.Name)
			if err != nil {
				return err
			}
			names[i] = n.Name
			seqs[i] = seq
		}
		if err := d.Out.Sequences.RecordBlock(d.Gen, gen, d.LnL, names, seqs); err != nil {
			return err
		}

		for _, seg := range d.Model.Tree.GetBranches() {
			recs := seg.Records[name]
			events := make([]string, 0, len(recs))
			for pos, rec := range recs {
				if rec.RateVectorID == "" || !rec.Occurred {
					continue
				}
				totalSubs++
				fromSym, err := aln.Domain.Decode(rec.AncState)
				if err != nil {
					return err
				}
				toSym, err := aln.Domain.Decode(rec.DecState)
				if err != nil {
					return err
				}
				events = append(events, fmt.Sprintf("%s%d%s", fromSym, pos, toSym))
			}
			if err := d.Out.Substitutions.Record(d.Gen, gen, d.LnL, seg.Ancestor.Name, seg.Descendant.Name, events); err != nil {
				return err
			}
		}
		for _, rv := range d.Model.Store.Vectors(name) {
			if err := d.Out.RateVectors.Record(d.Gen, gen, d.LnL, rv, aln.Domain); err != nil {
				return err
			}
		}
	}
	return d.Out.Counts.Record(gen, "all", totalSubs)
}

// Command raoteh runs a single phylogenetic MCMC chain to completion:
// load a tree and one or more alignments, register their state
// domains, seed a rate-vector store, and drive the three-recursion
// Gibbs sampler alongside Metropolis-Hastings parameter proposals.
//
// Grounded directly on the teacher's mcmct/maru.go / dpp_gibbs/cgibbs.go
// main(): a flat flag surface, no subcommands, a single long-running
// verb. The core never calls os.Exit or log.Fatal; this is the single
// boundary that does.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"raoteh/internal/align"
	"raoteh/internal/config"
	"raoteh/internal/domain"
	"raoteh/internal/errs"
	"raoteh/internal/mcmc"
	"raoteh/internal/msa"
	"raoteh/internal/output"
	"raoteh/internal/paramgraph"
	"raoteh/internal/ratevec"
	"raoteh/internal/runlog"
	"raoteh/internal/tree"
)

func main() {
	if err := run(); err != nil {
		printAndExit(err)
	}
}

// printAndExit is the single top-level error boundary: the core never
// calls os.Exit or log.Fatal itself, so every one of its typed errors
// surfaces here, exactly once, with an exit code distinguishing a
// misconfiguration (2) from a runtime failure (1).
func printAndExit(err error) {
	var cfgErr *errs.ConfigError
	code := 1
	if errors.As(err, &cfgErr) {
		code = 2
	}
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(code)
}

func run() error {
	treeArg := flag.String("t", "", "input Newick tree file")
	alnArg := flag.String("a", "", "primary alignment FASTA file (dynamic domain)")
	domainArg := flag.String("domain", "amino_acid:A,R,N,D,C,Q,E,G,H,I,L,K,M,F,P,S,T,W,Y,V", "primary domain as name:symbol,symbol,...")
	staticAlnArg := flag.String("static-aln", "", "optional SITE_STATIC alignment frequency table (context domain)")
	staticDomainArg := flag.String("static-domain", "", "SITE_STATIC domain as name:symbol,symbol,... (required with -static-aln)")
	genArg := flag.Int("gen", 500000, "number of MCMC generations to run")
	printFreqArg := flag.Int("pr", 10000, "frequency with which to print progress to the screen")
	outFreqArg := flag.Int("samp", 1000, "frequency with which to record samples to the output streams")
	treeSampFreqArg := flag.Int("tsf", 20, "frequency with which to run a tree/sequence Gibbs sample instead of a parameter proposal")
	tripleArg := flag.Bool("triple", true, "use the three-recursion Gibbs sampler instead of the two-recursion variant")
	posCountArg := flag.Int("psc", 1, "number of alignment positions to resample per tree/sequence Gibbs step")
	uArg := flag.Float64("u", 1.0, "uniformization constant bound per domain")
	maxSegArg := flag.Float64("maxseg", 10.0, "maximum branch-segment length before an edge is subdivided")
	seedArg := flag.Int64("seed", 1, "PRNG seed")
	outPrefixArg := flag.String("o", "raoteh", "prefix for output file names")
	flag.Parse()

	if (*staticAlnArg == "") != (*staticDomainArg == "") {
		return &errs.ConfigError{Key: "static-domain", Reason: "-static-aln and -static-domain must be given together"}
	}

	domains, err := parseDomainSpecs(*domainArg, *staticDomainArg)
	if err != nil {
		return err
	}

	cfg := &config.Config{TreeFile: *treeArg, AlignmentFile: *alnArg}
	cfg.MCMC.Generations = *genArg
	cfg.MCMC.OutputFrequency = *outFreqArg
	cfg.MCMC.PrintFrequency = *printFreqArg
	cfg.MCMC.TreeSampleFrequency = *treeSampFreqArg
	cfg.MCMC.TripleRecursion = *tripleArg
	cfg.MCMC.PositionSampleCount = *posCountArg
	cfg.Output.LikelihoodOutFile = *outPrefixArg + ".lnl.tsv"
	cfg.Output.CountsOutFile = *outPrefixArg + ".counts.tsv"
	cfg.Output.SequencesOutFile = *outPrefixArg + ".seq.tsv"
	cfg.Output.SubstitutionsOutFile = *outPrefixArg + ".subs.tsv"
	cfg.Output.RateVectorsOutFile = *outPrefixArg + ".ratevec.tsv"
	cfg.Model.Domains = domains
	cfg.Model.UniformizationConstant = *uArg
	cfg.Model.MaxSegmentLength = *maxSegArg
	cfg.Model.Seed = *seedArg
	if err := cfg.Validate(); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Model.Seed))

	treeText, err := os.ReadFile(cfg.TreeFile)
	if err != nil {
		return &errs.IOError{Path: cfg.TreeFile, Err: err}
	}
	rawTree, err := msa.ParseNewick(string(treeText))
	if err != nil {
		return err
	}
	tr, err := tree.Build(rawTree, cfg.Model.MaxSegmentLength, tree.UniformSplit{}, cfg.Model.Seed)
	if err != nil {
		return err
	}

	alignments := make(map[string]*align.Alignment)
	u := make(map[string]float64)
	graph := paramgraph.NewGraph()
	store := ratevec.NewStore(graph)

	// Every registered domain must be known before any rate vector is
	// seeded: the store must cover every extended-context combination
	// a dynamic domain's own Select calls can construct from the
	// other domains' states, per §4.2.
	primaryDomain, err := domain.New(domains[0].Name, domains[0].Symbols)
	if err != nil {
		return err
	}
	allDomains := []*domain.Domain{primaryDomain}
	var staticDomain *domain.Domain
	if *staticAlnArg != "" {
		staticDomain, err = domain.New(domains[1].Name, domains[1].Symbols)
		if err != nil {
			return err
		}
		allDomains = append(allDomains, staticDomain)
	}

	primaryAln, err := loadFASTAAlignment(primaryDomain, cfg.AlignmentFile, align.Dynamic)
	if err != nil {
		return err
	}
	if err := primaryAln.SyncWithTree(tr); err != nil {
		return err
	}
	alignments[primaryDomain.Name()] = primaryAln
	u[primaryDomain.Name()] = cfg.Model.UniformizationConstant

	if staticDomain != nil {
		staticAln, err := loadFrequencyTableAlignment(staticDomain, *staticAlnArg, align.SiteStatic)
		if err != nil {
			return err
		}
		if err := staticAln.ValidateSiteStatic(); err != nil {
			return err
		}
		if err := staticAln.SyncWithTree(tr); err != nil {
			return err
		}
		alignments[staticDomain.Name()] = staticAln
	}

	if err := align.ValidateGapAgreement(alignments); err != nil {
		return err
	}

	primaryContexts := extendedContexts(allDomains, primaryDomain.Name())
	if err := seedIdentityRateStore(store, graph, primaryDomain, primaryContexts, cfg.Model.UniformizationConstant); err != nil {
		return err
	}

	model := &align.Model{Tree: tr, Alignments: alignments, Store: store, U: u}
	for name := range alignments {
		if alignments[name].Tag == align.Dynamic {
			if err := model.ParsimonyInit(name); err != nil {
				return err
			}
		}
	}

	bundle, err := buildOutputBundle(cfg)
	if err != nil {
		return err
	}
	defer bundle.Close()

	logger := runlog.New(os.Stdout)
	logger.Start(cfg.MCMC.Generations)
	driver, err := mcmc.New(model, graph, cfg, bundle, logger, rng)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return driver.Run(ctx)
}

// parseDomainSpecs parses "-domain" and optionally "-static-domain"
// flag values of the form "name:symbol,symbol,...".
func parseDomainSpecs(primary, static string) ([]config.DomainSpec, error) {
	out := make([]config.DomainSpec, 0, 2)
	spec, err := parseOneDomainSpec(primary)
	if err != nil {
		return nil, err
	}
	out = append(out, spec)
	if static != "" {
		spec, err := parseOneDomainSpec(static)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseOneDomainSpec(s string) (config.DomainSpec, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return config.DomainSpec{}, &errs.ConfigError{Key: "MODEL.domains", Reason: fmt.Sprintf("malformed domain spec %q, want name:symbol,symbol,...", s)}
	}
	symbols := strings.Split(parts[1], ",")
	return config.DomainSpec{Name: parts[0], Symbols: symbols}, nil
}

func loadFASTAAlignment(d *domain.Domain, path string, tag align.Tag) (*align.Alignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IOError{Path: path, Err: err}
	}
	defer f.Close()
	raw, err := msa.ParseFASTA(f)
	if err != nil {
		return nil, err
	}
	return buildAlignment(d, raw, tag)
}

func loadFrequencyTableAlignment(d *domain.Domain, path string, tag align.Tag) (*align.Alignment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IOError{Path: path, Err: err}
	}
	defer f.Close()
	raw, err := msa.ParseFrequencyTable(f)
	if err != nil {
		return nil, err
	}
	return buildAlignment(d, raw, tag)
}

func buildAlignment(d *domain.Domain, raw msa.RawMSA, tag align.Tag) (*align.Alignment, error) {
	nCols := 0
	for _, fs := range raw {
		if len(fs) > nCols {
			nCols = len(fs)
		}
	}
	aln := align.New(d, nCols, tag)
	for name, fs := range raw {
		if err := aln.LoadTip(name, fs); err != nil {
			return nil, err
		}
	}
	return aln, nil
}

// extendedContexts enumerates every ExtendedState the model can
// construct for d: the full cross-product of every other registered
// domain's state codes, per §4.2's requirement that "the store must
// be configured so every reachable context has a vector." With no
// other domains registered it returns a single empty context.
func extendedContexts(all []*domain.Domain, exclude string) []ratevec.ExtendedState {
	contexts := []ratevec.ExtendedState{{}}
	for _, d := range all {
		if d.Name() == exclude {
			continue
		}
		var next []ratevec.ExtendedState
		for _, ctx := range contexts {
			for s := int8(0); s < int8(d.Size()); s++ {
				extended := make(ratevec.ExtendedState, len(ctx)+1)
				for k, v := range ctx {
					extended[k] = v
				}
				extended[d.Name()] = s
				next = append(next, extended)
			}
		}
		contexts = next
	}
	return contexts
}

// seedIdentityRateStore registers, for every ancestral state and
// every reachable extended context, a rate vector with a Sampleable
// off-diagonal rate to every other state, a minimal but valid
// substitution model sufficient to run the chain. Each off-diagonal
// cell starts at u/(2*(n-1)) so their sum never exceeds half of u,
// leaving room for the virtual-rate cell (u - sum) to land in [0,1]
// regardless of alphabet size, per §3's rate-vector bound. The same
// parameter-graph cells back every context's vector, since this
// bootstrap draws no context-dependent distinction between rates; a
// richer empirical rate matrix that does is left to a future loader.
func seedIdentityRateStore(store *ratevec.Store, graph *paramgraph.Graph, d *domain.Domain, contexts []ratevec.ExtendedState, u float64) error {
	n := d.Size()
	seedRate := u / (2 * float64(n-1))
	for anc := int8(0); anc < int8(n); anc++ {
		cells := make([]paramgraph.Value, n)
		var others []paramgraph.Value
		for j := int8(0); j < int8(n); j++ {
			if j == anc {
				continue
			}
			id := fmt.Sprintf("%s-rate-%d-%d", d.Name(), anc, j)
			v := paramgraph.NewSampleable(id, seedRate)
			graph.Register(v)
			cells[j] = v
			others = append(others, v)
		}
		virtID := fmt.Sprintf("%s-virt-%d", d.Name(), anc)
		virt := paramgraph.NewVirtualRate(virtID, u, others)
		if err := virt.Refresh(); err != nil {
			return err
		}
		for _, o := range others {
			graph.DeclareDependency(o.ID(), virt)
		}
		cells[anc] = virt
		for i, ex := range contexts {
			rv := &ratevec.RateVector{ID: fmt.Sprintf("%s-anc-%d-ctx-%d", d.Name(), anc, i), Domain: d.Name(), AncState: anc, Cells: cells}
			if err := store.Add(rv, ex); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildOutputBundle opens every output stream; if one fails to open,
// the streams already opened are closed before the error is returned.
func buildOutputBundle(cfg *config.Config) (*output.Bundle, error) {
	var opened []output.Writer
	fail := func(err error) (*output.Bundle, error) {
		for _, w := range opened {
			w.Close()
		}
		return nil, err
	}
	likeW, err := output.NewLikelihoodWriter(cfg.Output.LikelihoodOutFile)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, likeW)
	countsW, err := output.NewSubstitutionCountWriter(cfg.Output.CountsOutFile)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, countsW)
	seqW, err := output.NewSequenceWriter(cfg.Output.SequencesOutFile)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, seqW)
	subW, err := output.NewSubstitutionWriter(cfg.Output.SubstitutionsOutFile)
	if err != nil {
		return fail(err)
	}
	opened = append(opened, subW)
	rvW, err := output.NewRateVectorWriter(cfg.Output.RateVectorsOutFile)
	if err != nil {
		return fail(err)
	}
	return &output.Bundle{Likelihood: likeW, Counts: countsW, Sequences: seqW, Substitutions: subW, RateVectors: rvW}, nil
}

// Package output implements the durable sample writers of §4.10: one
// file handle per stream (likelihood, counts, sequences, substitutions,
// rate vectors), acquired at construction and released on every exit
// path, matching the teacher's initOutfile/bufio.Writer idiom
// (mcmc.go: initOutfile, Run) generalized into typed writers with an
// explicit Close.
package output

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"raoteh/internal/domain"
	"raoteh/internal/errs"
	"raoteh/internal/ratevec"
)

// Writer is the common lifetime contract every output stream honours:
// opened once, flushed and closed exactly once, on every exit path
// including a fatal error mid-run (§8 scenario 9).
type Writer interface {
	Close() error
}

// fileWriter is the shared bufio.Writer-over-os.File plumbing behind
// every concrete writer below.
type fileWriter struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

func openFileWriter(path string) (*fileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &errs.IOError{Path: path, Err: err}
	}
	return &fileWriter{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (fw *fileWriter) Close() error {
	if err := fw.w.Flush(); err != nil {
		fw.f.Close()
		return &errs.IOError{Path: fw.path, Err: err}
	}
	if err := fw.f.Close(); err != nil {
		return &errs.IOError{Path: fw.path, Err: err}
	}
	return nil
}

// LikelihoodWriter records (I, GEN, LogL) rows, per §4.5/§6.
type LikelihoodWriter struct{ *fileWriter }

// NewLikelihoodWriter opens the likelihood stream and writes its header.
func NewLikelihoodWriter(path string) (*LikelihoodWriter, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(fw.w, "I,GEN,LogL")
	return &LikelihoodWriter{fw}, nil
}

// Record appends one likelihood row.
func (w *LikelihoodWriter) Record(iteration, gen int, lnL float64) error {
	if _, err := fmt.Fprintf(w.w, "%d,%d,%v\n", iteration, gen, lnL); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	return nil
}

// SequenceWriter records the current ancestral sequence assignment for
// every node as a FASTA block, per §6.
type SequenceWriter struct{ *fileWriter }

// NewSequenceWriter opens the ancestral-sequence stream.
func NewSequenceWriter(path string) (*SequenceWriter, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, err
	}
	return &SequenceWriter{fw}, nil
}

// RecordBlock writes one generation's decoded sequence snapshot as a
// "#<i>:<gen>:<lnL>" header followed by ">name\nsequence" lines for
// every node, per §6.
func (w *SequenceWriter) RecordBlock(iteration, gen int, lnL float64, names, sequences []string) error {
	if _, err := fmt.Fprintf(w.w, "#%d:%d:%v\n", iteration, gen, lnL); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	for i, name := range names {
		if _, err := fmt.Fprintf(w.w, ">%s\n%s\n", name, sequences[i]); err != nil {
			return &errs.IOError{Path: w.path, Err: err}
		}
	}
	return nil
}

// SubstitutionWriter records, per branch segment, the full list of
// substitution events across every position, per §3's
// SubstitutionRecord and §6's "[ A17C B32D ... ]" shape.
type SubstitutionWriter struct{ *fileWriter }

// NewSubstitutionWriter opens the substitution-event stream.
func NewSubstitutionWriter(path string) (*SubstitutionWriter, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(fw.w, "I,GEN,LogL,Ancestral,Decendant,Substitutions")
	return &SubstitutionWriter{fw}, nil
}

// Record writes one branch segment's substitution list for this
// generation. events is already formatted as "<from><pos><to>" per
// entry, including virtual self-substitutions such as "A17A".
func (w *SubstitutionWriter) Record(iteration, gen int, lnL float64, ancName, decName string, events []string) error {
	if _, err := fmt.Fprintf(w.w, "%d,%d,%v,%s,%s,[ %s ]\n", iteration, gen, lnL, ancName, decName, strings.Join(events, " ")); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	return nil
}

// SubstitutionCountWriter records the aggregate substitution count per
// domain per generation, the "counts" stream of §6.
type SubstitutionCountWriter struct{ *fileWriter }

// NewSubstitutionCountWriter opens the substitution-count stream.
func NewSubstitutionCountWriter(path string) (*SubstitutionCountWriter, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(fw.w, "gen,domain,count")
	return &SubstitutionCountWriter{fw}, nil
}

// Record writes one generation's substitution count for a domain.
func (w *SubstitutionCountWriter) Record(gen int, domainName string, count int) error {
	if _, err := fmt.Fprintf(w.w, "%d,%s,%d\n", gen, domainName, count); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	return nil
}

// RateVectorWriter records the live rate cells of every registered
// rate vector at a recorded generation, per §4.2/§6. Its header names
// each target state, so it is written lazily from the first vector's
// domain rather than at construction.
type RateVectorWriter struct {
	*fileWriter
	headerWritten bool
}

// NewRateVectorWriter opens the rate-vector stream.
func NewRateVectorWriter(path string) (*RateVectorWriter, error) {
	fw, err := openFileWriter(path)
	if err != nil {
		return nil, err
	}
	return &RateVectorWriter{fileWriter: fw}, nil
}

// Record writes one rate vector's current cell values, decoded through
// dom into the "I,GEN,LogL,NAME,ANC,<state1>,<state2>,..." shape of §6.
func (w *RateVectorWriter) Record(iteration, gen int, lnL float64, rv *ratevec.RateVector, dom *domain.Domain) error {
	if !w.headerWritten {
		header := "I,GEN,LogL,NAME,ANC"
		for _, sym := range dom.Symbols() {
			header += "," + sym
		}
		if _, err := fmt.Fprintln(w.w, header); err != nil {
			return &errs.IOError{Path: w.path, Err: err}
		}
		w.headerWritten = true
	}
	ancSym, err := dom.Decode(rv.AncState)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "%d,%d,%v,%s,%s", iteration, gen, lnL, rv.ID, ancSym); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	for j := range rv.Cells {
		if _, err := fmt.Fprintf(w.w, ",%v", rv.Rate(int8(j))); err != nil {
			return &errs.IOError{Path: w.path, Err: err}
		}
	}
	if _, err := fmt.Fprintln(w.w); err != nil {
		return &errs.IOError{Path: w.path, Err: err}
	}
	return nil
}

// Bundle owns every output stream for one run and closes all of them,
// collecting (not short-circuiting on) the first error so a partial
// write failure never leaks the remaining file handles.
type Bundle struct {
	Likelihood    *LikelihoodWriter
	Counts        *SubstitutionCountWriter
	Sequences     *SequenceWriter
	Substitutions *SubstitutionWriter
	RateVectors   *RateVectorWriter
}

// Close closes every writer in the bundle, returning the first error
// encountered while still attempting to close the rest.
func (b *Bundle) Close() error {
	var first error
	closers := []Writer{b.Likelihood, b.Counts, b.Sequences, b.Substitutions, b.RateVectors}
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Package msa defines the raw external input shapes named in §6 (raw
// MSA, raw tree) and the loaders that parse them from text, per §4.7.
// This is deliberately the only place in the module that knows about
// Newick or FASTA syntax; every other package consumes the parsed
// RawTree/RawMSA shapes.
package msa

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"raoteh/internal/errs"
)

// StateFreq is one {state, freq} record in a FreqSequence.
type StateFreq struct {
	State string
	Freq  float64
}

// FreqSequence is one taxon's per-position state distribution: a list
// of {state, freq} records summing to 1.0 per position. Gap has
// freq = 1.0 exclusively, so len(FreqSequence per position) == 1 for
// both the one-hot and gap cases in this implementation; ambiguous
// positions may carry more than one record.
type FreqSequence [][]StateFreq

// RawMSA is the raw external alignment: taxon name -> per-position
// state-frequency records.
type RawMSA map[string]FreqSequence

// RawTree is the raw external tree: a rooted node with a name, a
// branch distance to its parent (0 for the root), and children.
type RawTree struct {
	Name     string
	Distance float64
	Children []RawTree
}

// IsLeaf reports whether this raw node has no children.
func (t RawTree) IsLeaf() bool { return len(t.Children) == 0 }

// ParseNewick parses a single Newick tree string of the form
// "(name:distance,name:distance)name:distance;" into a RawTree.
func ParseNewick(s string) (RawTree, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	if s == "" {
		return RawTree{}, &errs.SchemaError{Context: "newick", Reason: "empty tree string"}
	}
	p := &newickParser{s: s}
	node, err := p.parseNode()
	if err != nil {
		return RawTree{}, err
	}
	if p.pos != len(p.s) {
		return RawTree{}, &errs.SchemaError{Context: "newick", Reason: fmt.Sprintf("trailing input at offset %d: %q", p.pos, p.s[p.pos:])}
	}
	return node, nil
}

type newickParser struct {
	s   string
	pos int
}

func (p *newickParser) parseNode() (RawTree, error) {
	var node RawTree
	if p.pos < len(p.s) && p.s[p.pos] == '(' {
		p.pos++ // consume '('
		for {
			child, err := p.parseNode()
			if err != nil {
				return RawTree{}, err
			}
			node.Children = append(node.Children, child)
			if p.pos >= len(p.s) {
				return RawTree{}, &errs.SchemaError{Context: "newick", Reason: "unbalanced parentheses"}
			}
			if p.s[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.s[p.pos] == ')' {
				p.pos++
				break
			}
			return RawTree{}, &errs.SchemaError{Context: "newick", Reason: fmt.Sprintf("expected ',' or ')' at offset %d", p.pos)}
		}
	}
	node.Name = p.parseLabel()
	if p.pos < len(p.s) && p.s[p.pos] == ':' {
		p.pos++
		distStr := p.parseNumber()
		d, err := strconv.ParseFloat(distStr, 64)
		if err != nil {
			return RawTree{}, &errs.SchemaError{Context: "newick", Reason: fmt.Sprintf("invalid distance %q", distStr)}
		}
		if d < 0 {
			return RawTree{}, &errs.SchemaError{Context: "newick", Reason: fmt.Sprintf("negative distance %v", d)}
		}
		node.Distance = d
	}
	return node, nil
}

func (p *newickParser) parseLabel() string {
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune(",():;", rune(p.s[p.pos])) {
		p.pos++
	}
	return p.s[start:p.pos]
}

func (p *newickParser) parseNumber() string {
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune(",():;", rune(p.s[p.pos])) {
		p.pos++
	}
	return p.s[start:p.pos]
}

// ParseFASTA reads ">name\nSEQUENCE" blocks and converts each residue
// into a one-hot FreqSequence entry {State: residue, Freq: 1.0}; "-"
// becomes the gap sentinel entry {State: "-", Freq: 1.0}. Residues are
// not checked against any alphabet here.
func ParseFASTA(r io.Reader) (RawMSA, error) {
	out := make(RawMSA)
	scanner := bufio.NewScanner(r)
	var current string
	var seq strings.Builder
	flush := func() {
		if current == "" {
			return
		}
		out[current] = oneHot(seq.String())
		seq.Reset()
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			current = strings.TrimSpace(strings.TrimPrefix(line, ">"))
			continue
		}
		if current == "" {
			return nil, &errs.SchemaError{Context: "fasta", Reason: "sequence data before any '>name' header"}
		}
		seq.WriteString(line)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, &errs.IOError{Path: "<reader>", Err: err}
	}
	if len(out) == 0 {
		return nil, &errs.SchemaError{Context: "fasta", Reason: "no sequences found"}
	}
	return out, nil
}

func oneHot(seq string) FreqSequence {
	fs := make(FreqSequence, len(seq))
	for i, r := range seq {
		fs[i] = []StateFreq{{State: string(r), Freq: 1.0}}
	}
	return fs
}

// ParseFrequencyTable reads an explicit per-position {state, freq}
// table, one taxon per line: the taxon name, then one tab-separated
// column per position, each holding comma-separated state:freq entries
// (e.g. "taxon1\tA:0.9,C:0.1\tG:1.0\n..." is two positions), for ambiguous or
// probabilistic input that a one-hot FASTA cannot represent.
func ParseFrequencyTable(r io.Reader) (RawMSA, error) {
	out := make(RawMSA)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			return nil, &errs.SchemaError{Context: "frequency table", Reason: fmt.Sprintf("malformed row: %q", line)}
		}
		name := cols[0]
		fs := make(FreqSequence, 0, len(cols)-1)
		for _, col := range cols[1:] {
			entries := strings.Split(col, ",")
			var recs []StateFreq
			sum := 0.0
			for _, e := range entries {
				parts := strings.SplitN(e, ":", 2)
				if len(parts) != 2 {
					return nil, &errs.SchemaError{Context: "frequency table", Reason: fmt.Sprintf("malformed entry %q for taxon %s", e, name)}
				}
				f, err := strconv.ParseFloat(parts[1], 64)
				if err != nil {
					return nil, &errs.SchemaError{Context: "frequency table", Reason: fmt.Sprintf("invalid freq %q for taxon %s", parts[1], name)}
				}
				recs = append(recs, StateFreq{State: parts[0], Freq: f})
				sum += f
			}
			if len(recs) != 1 || recs[0].State != "-" {
				if sum < 0.999 || sum > 1.001 {
					return nil, &errs.SchemaError{Context: "frequency table", Reason: fmt.Sprintf("taxon %s: position frequencies sum to %v, want 1.0", name, sum)}
				}
			}
			fs = append(fs, recs)
		}
		out[name] = fs
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.IOError{Path: "<reader>", Err: err}
	}
	return out, nil
}

// Package domain implements the state-domain registry: an immutable
// symbol<->code mapping for one biological alphabet (amino acid,
// structural context, and so on).
package domain

import "fmt"

// Gap is the reserved code for the gap sentinel "-". It is never a
// member of {0 .. N-1}.
const Gap int8 = -1

const gapSymbol = "-"

// UnknownSymbolError is raised by Encode when the symbol was never
// registered for this domain.
type UnknownSymbolError struct {
	Domain string
	Symbol string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("domain %q: unknown symbol %q", e.Domain, e.Symbol)
}

// UnknownCodeError is raised by Decode when the code falls outside the
// registered alphabet (and is not the gap sentinel).
type UnknownCodeError struct {
	Domain string
	Code   int8
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("domain %q: unknown code %d", e.Domain, e.Code)
}

// Domain is a pure value object: an ordered, fixed alphabet of symbols
// plus its integer encoding. A Domain never mutates after New returns.
type Domain struct {
	name    string
	symbols []string
	encode  map[string]int8
}

// New builds a Domain from an ordered symbol list. Symbols must be
// unique and non-empty; "-" is reserved for the gap sentinel and must
// not appear in symbols. The alphabet size must fit in a signed byte
// (N <= 127) per the state-code invariant.
func New(name string, symbols []string) (*Domain, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("domain %q: empty alphabet", name)
	}
	if len(symbols) > 127 {
		return nil, fmt.Errorf("domain %q: alphabet size %d exceeds 127", name, len(symbols))
	}
	enc := make(map[string]int8, len(symbols))
	for i, s := range symbols {
		if s == gapSymbol {
			return nil, fmt.Errorf("domain %q: %q is reserved for gap", name, gapSymbol)
		}
		if _, dup := enc[s]; dup {
			return nil, fmt.Errorf("domain %q: duplicate symbol %q", name, s)
		}
		enc[s] = int8(i)
	}
	cp := make([]string, len(symbols))
	copy(cp, symbols)
	return &Domain{name: name, symbols: cp, encode: enc}, nil
}

// Name returns the domain's identifier.
func (d *Domain) Name() string { return d.name }

// Size returns N, the number of non-gap states.
func (d *Domain) Size() int { return len(d.symbols) }

// Symbols returns the ordered alphabet backing this domain. The
// returned slice must not be mutated by callers.
func (d *Domain) Symbols() []string { return d.symbols }

// Encode maps a symbol to its integer code, or Gap for "-". It fails
// with *UnknownSymbolError for any other unregistered symbol.
func (d *Domain) Encode(symbol string) (int8, error) {
	if symbol == gapSymbol {
		return Gap, nil
	}
	code, ok := d.encode[symbol]
	if !ok {
		return 0, &UnknownSymbolError{Domain: d.name, Symbol: symbol}
	}
	return code, nil
}

// Decode maps a code back to its symbol, or "-" for Gap. It fails
// with *UnknownCodeError for any code outside {Gap, 0 .. N-1}.
func (d *Domain) Decode(code int8) (string, error) {
	if code == Gap {
		return gapSymbol, nil
	}
	if code < 0 || int(code) >= len(d.symbols) {
		return "", &UnknownCodeError{Domain: d.name, Code: code}
	}
	return d.symbols[code], nil
}

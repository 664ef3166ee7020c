// Package errs defines the fatal-error taxonomy shared by every core
// component: ConfigError, SchemaError, GraphError, NumericError, and
// IOError. The core never calls os.Exit or log.Fatal itself; it always
// returns one of these so a single top-level boundary can print and
// exit.
package errs

import "fmt"

// ConfigError signals a missing or invalid configuration option.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// SchemaError signals a violation of the data model's static shape:
// an unknown state symbol, a gap-mask mismatch across domains, or a
// SITE_STATIC column that is not constant or not certain.
type SchemaError struct {
	Context string
	Reason  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s: %s", e.Context, e.Reason)
}

// GraphError signals a broken cross-reference: a tip with no sequence,
// or a selection request with no matching rate vector.
type GraphError struct {
	Context string
	Reason  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph error: %s: %s", e.Context, e.Reason)
}

// NumericError signals a value that has left its valid numeric range:
// a NaN log-likelihood, or a rate outside [0,1].
type NumericError struct {
	Context string
	Value   float64
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("numeric error: %s: value %v out of range", e.Context, e.Value)
}

// IOError wraps a failure opening or writing a file.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error: %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

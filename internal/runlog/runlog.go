// Package runlog implements the leveled progress logger of §4.11:
// a humanized, TTY-aware progress line printed every print_frequency
// generations, kept entirely separate from the numeric CSV streams of
// package output. Grounded on the teacher's fmt.Println progress line
// (mcmc.go: Run) generalized with dustin/go-humanize for the numbers
// and mattn/go-isatty to decide whether to colorize.
package runlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
)

// Logger prints humanized, TTY-aware progress lines.
type Logger struct {
	out      io.Writer
	colorize bool
	start    time.Time
}

// New builds a Logger writing to out. Colorization is enabled only
// when out is a terminal, per mattn/go-isatty.
func New(out *os.File) *Logger {
	colorize := false
	if out != nil {
		colorize = isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	}
	return &Logger{out: out, colorize: colorize, start: startTime()}
}

// startTime exists so tests can construct a Logger without depending
// on wall-clock time in assertions; production callers always get
// time.Now() via New.
func startTime() time.Time { return time.Now() }

// Start assigns and prints a fresh run identifier, so a run's console
// output and its output-stream files can be correlated after the
// fact. Returns the identifier for the caller to stamp elsewhere.
func (l *Logger) Start(generations int) string {
	runID := uuid.NewString()
	fmt.Fprintf(l.out, "run %s: %s generations\n", runID, humanize.Comma(int64(generations)))
	return runID
}

// Progress prints one progress line: generation count, elapsed time,
// generations/sec, and the running Metropolis acceptance ratio.
func (l *Logger) Progress(gen, totalGens int, acceptanceRatio float64) {
	elapsed := time.Since(l.start)
	rate := float64(gen) / elapsed.Seconds()
	line := fmt.Sprintf("gen %s/%s (%s%%) elapsed %s rate %s gen/s accept %.3f",
		humanize.Comma(int64(gen)),
		humanize.Comma(int64(totalGens)),
		humanize.Ftoa(100*float64(gen)/float64(totalGens)),
		elapsed.Round(time.Second),
		humanize.Ftoa(rate),
		acceptanceRatio,
	)
	if l.colorize {
		fmt.Fprintln(l.out, colorGreen+line+colorReset)
	} else {
		fmt.Fprintln(l.out, line)
	}
}

// Fatal prints a terminal error line before the top-level boundary
// exits; it never calls os.Exit itself.
func (l *Logger) Fatal(err error) {
	if l.colorize {
		fmt.Fprintf(l.out, "%sfatal: %v%s\n", colorGray, err, colorReset)
		return
	}
	fmt.Fprintf(l.out, "fatal: %v\n", err)
}

// Package migrate moves plaintext env-file secrets into a storage
// backend, with a mandatory read-back verification per secret. The
// engine never deletes the source; callers decide that, and only when
// the report shows zero failures.
package migrate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/veilbox/veil/internal/backend"
)

// Status is the outcome of importing one pair.
type Status string

const (
	StatusImported     Status = "imported"
	StatusWriteFailed  Status = "write-failed"
	StatusVerifyFailed Status = "verify-failed"
	StatusMalformed    Status = "malformed"
)

// Record tracks one source line through the import. Err carries the
// outcome kind and name only, never the value.
type Record struct {
	Name   string
	Line   int
	Status Status
	Err    error
}

// Report summarizes a whole import run, one record per source line
// that held (or should have held) a pair, in source order.
type Report struct {
	Source  string
	Records []Record
}

// OK reports whether every record succeeded. This is the explicit gate
// for deleting the plaintext source.
func (r *Report) OK() bool {
	for _, rec := range r.Records {
		if rec.Status != StatusImported {
			return false
		}
	}
	return true
}

// Failed returns the records that did not import cleanly.
func (r *Report) Failed() []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Status != StatusImported {
			out = append(out, rec)
		}
	}
	return out
}

// Imported returns how many pairs imported and verified.
func (r *Report) Imported() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == StatusImported {
			n++
		}
	}
	return n
}

const lockWait = 10 * time.Second

// Engine imports plaintext sources into one backend through the
// Backend contract.
type Engine struct {
	store backend.Backend
}

// New creates an import engine writing to store.
func New(store backend.Backend) *Engine {
	return &Engine{store: store}
}

// ImportFrom reads the env file at path and writes every pair into the
// backend. Each successful write is immediately read back and compared
// byte-for-byte; a pair only counts as imported when the read-back
// matches, because that is the only proof the secret is retrievable
// before the plaintext source goes away. Failures don't abort the run:
// every pair is attempted and recorded.
func (e *Engine) ImportFrom(ctx context.Context, path string) (*Report, error) {
	// flock would create a missing path, turning a typo into an empty
	// (and therefore "successful") import.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	// Hold the source file lock for the duration so a concurrent
	// writer can't change it between parse and verification.
	lock := flock.New(path)
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock source: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock source: timeout")
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	pairs, malformed, err := ParseEnvFile(f)
	if err != nil {
		return nil, err
	}

	report := &Report{Source: path}
	for _, m := range malformed {
		report.Records = append(report.Records, Record{
			Line:   m.Line,
			Status: StatusMalformed,
			Err:    fmt.Errorf("line %d: %s", m.Line, m.Reason),
		})
	}

	for _, pair := range pairs {
		report.Records = append(report.Records, e.importPair(ctx, pair))
		backend.Zero(pair.Value)
	}

	sortRecords(report.Records)
	return report, nil
}

// importPair writes one pair and verifies the round trip.
func (e *Engine) importPair(ctx context.Context, pair Pair) Record {
	rec := Record{Name: pair.Name, Line: pair.Line}

	if err := e.store.Set(ctx, pair.Name, pair.Value); err != nil {
		rec.Status = StatusWriteFailed
		rec.Err = err
		return rec
	}

	got, err := e.store.Get(ctx, pair.Name)
	if err != nil {
		rec.Status = StatusVerifyFailed
		rec.Err = fmt.Errorf("read-back of %s: %w", pair.Name, err)
		return rec
	}
	match := bytes.Equal(got, pair.Value)
	backend.Zero(got)

	if !match {
		rec.Status = StatusVerifyFailed
		rec.Err = fmt.Errorf("read-back of %s does not match written value", pair.Name)
		return rec
	}

	rec.Status = StatusImported
	return rec
}

// sortRecords restores source-line order after malformed records were
// prepended.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Line < records[j].Line
	})
}

// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package overlapio buffers overlap records per worker and flushes them to
// a single shared, mutex-serialised writer (spec.md Section 5). The wire
// format is snappy-compressed tab-delimited text, the same codec the
// teacher uses for its own intermediate pipeline files.
package overlapio

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/golang/snappy"

	"github.com/kshedden/ovlmatch/internal/overlap"
)

// RingCapacity is the private per-worker buffer size before a flush,
// matching spec.md Section 3's "≈64k records".
const RingCapacity = 64 * 1024

// Writer is the single shared output sink. Exactly one lock protects it,
// acquired only in leaf position (spec.md Section 5).
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	f   *os.File
	sw  *snappy.Writer
	withDeltas bool

	// TotalOverlaps counts records actually flushed to disk, a sanity
	// check against internal/stats.Counters.TotalOverlaps (which counts
	// records as they're accepted, before ring buffering). The richer
	// per-class breakdown (dovetail, contained) lives only in
	// internal/stats, since classifying a record correctly needs the
	// Classification the writer's wire format doesn't retain.
	TotalOverlaps int64
}

// NewWriter opens path for writing, wrapping it in a snappy stream.
func NewWriter(path string, withDeltas bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	sw := snappy.NewBufferedWriter(f)
	return &Writer{
		w:          bufio.NewWriterSize(sw, 1<<20),
		f:          f,
		sw:         sw,
		withDeltas: withDeltas,
	}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.sw.Close(); err != nil {
		return err
	}
	return w.f.Close()
}

// WriteBatch appends a worker's private ring buffer under the shared
// mutex (spec.md Section 5's single-mutex output policy).
func (w *Writer) WriteBatch(records []overlap.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.writeOne(r); err != nil {
			return err
		}
		w.TotalOverlaps++
	}
	return nil
}

func (w *Writer) writeOne(r overlap.Record) error {
	if r.Partial {
		_, err := fmt.Fprintf(w.w, "%d\t%d\t%s\tP\t%d\t%d\t%d\t%d\t%t\t%d\t%d\n",
			r.AID, r.BID, r.Orientation, r.AHang5, r.AHang3, r.BHang5, r.BHang3, r.Flipped, r.Span, r.ErrorRate)
		if err != nil {
			return err
		}
	} else {
		_, err := fmt.Fprintf(w.w, "%d\t%d\t%s\tF\t%d\t%d\t%d\t%d\n",
			r.AID, r.BID, r.Orientation, r.AHang, r.BHang, r.Span, r.ErrorRate)
		if err != nil {
			return err
		}
	}
	if w.withDeltas {
		for _, d := range r.Deltas {
			if _, err := fmt.Fprintf(w.w, "%d ", d); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprint(w.w, "0\n"); err != nil {
			return err
		}
	}
	return nil
}

// Ring is a worker-private accumulation buffer, flushed to a Writer once
// full and once more at worker exit (spec.md Section 5).
type Ring struct {
	buf []overlap.Record
	dst *Writer
}

// NewRing creates a private ring buffer flushing into dst.
func NewRing(dst *Writer) *Ring {
	return &Ring{dst: dst, buf: make([]overlap.Record, 0, RingCapacity)}
}

// Add appends a record, flushing automatically when the ring fills.
func (r *Ring) Add(rec overlap.Record) error {
	r.buf = append(r.buf, rec)
	if len(r.buf) >= RingCapacity {
		return r.Flush()
	}
	return nil
}

// Flush writes the ring's contents to the shared writer and clears it.
func (r *Ring) Flush() error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := r.dst.WriteBatch(r.buf); err != nil {
		return err
	}
	r.buf = r.buf[:0]
	return nil
}

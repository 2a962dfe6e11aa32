// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package stats accumulates per-worker run counters and writes the
// end-of-run summary report spec.md Section 7 requires, the way muscato's
// driver writes seqinfo.json after a run.
package stats

import (
	"encoding/json"
	"os"
	"sync/atomic"
)

// Counters holds the named counters spec.md Section 7 calls out. Each
// field is updated via atomic adds from worker goroutines and folded into
// the JSON report at run end.
type Counters struct {
	TotalOverlaps          int64
	Contained              int64
	Dovetail               int64
	KmerHitsWithOverlap    int64
	KmerHitsWithoutOverlap int64
	RejectedShortWindow    int64
	RejectedLongWindow     int64
	ReadsSkippedShort      int64
	HashBucketsFull        int64
}

// AddTotalOverlaps etc. are small atomic helpers so workers never need a
// mutex for their own counters (spec.md Section 5: "per-worker
// accumulators folded at batch end").
func (c *Counters) AddTotalOverlaps(n int64)         { atomic.AddInt64(&c.TotalOverlaps, n) }
func (c *Counters) AddContained(n int64)             { atomic.AddInt64(&c.Contained, n) }
func (c *Counters) AddDovetail(n int64)              { atomic.AddInt64(&c.Dovetail, n) }
func (c *Counters) AddKmerHitsWithOverlap(n int64)    { atomic.AddInt64(&c.KmerHitsWithOverlap, n) }
func (c *Counters) AddKmerHitsWithoutOverlap(n int64) { atomic.AddInt64(&c.KmerHitsWithoutOverlap, n) }
func (c *Counters) AddRejectedShortWindow(n int64)    { atomic.AddInt64(&c.RejectedShortWindow, n) }
func (c *Counters) AddRejectedLongWindow(n int64)     { atomic.AddInt64(&c.RejectedLongWindow, n) }
func (c *Counters) AddReadsSkippedShort(n int64)      { atomic.AddInt64(&c.ReadsSkippedShort, n) }
func (c *Counters) AddHashBucketsFull(n int64)        { atomic.AddInt64(&c.HashBucketsFull, n) }

// Report writes the final counters as indented JSON to path, mirroring
// muscato's own seqinfo.json summary file.
func Report(path string, c *Counters) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fid.Close()
	enc := json.NewEncoder(fid)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

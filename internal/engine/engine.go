// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package engine is the batch driver and worker-thread dispatcher (spec.md
// Section 2 and Section 5). It builds one hash-index batch at a time,
// fans reference reads out across a fixed worker pool modeled on
// muscato_confirm.go's searchpairs-per-goroutine shape, and joins workers
// under a WaitGroup before advancing to the next batch.
package engine

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kshedden/ovlmatch/internal/align"
	"github.com/kshedden/ovlmatch/internal/chain"
	"github.com/kshedden/ovlmatch/internal/config"
	"github.com/kshedden/ovlmatch/internal/hashindex"
	"github.com/kshedden/ovlmatch/internal/kmer"
	"github.com/kshedden/ovlmatch/internal/overlap"
	"github.com/kshedden/ovlmatch/internal/overlapio"
	"github.com/kshedden/ovlmatch/internal/seed"
	"github.com/kshedden/ovlmatch/internal/stats"
	"github.com/kshedden/ovlmatch/internal/store"
)

// RunID is a per-run identifier generated from a uuid at startup, the way
// muscato.go names its per-run temp/log directories. Nothing in this
// repository writes it into a log name, a record or the statistics report.
var RunID = uuid.New().String()

// Engine drives batches over a hash-read store and a reference-read store,
// which may be the same underlying store.Reader.
type Engine struct {
	Cfg        *config.Config
	HashStore  store.Reader
	RefStore   store.Reader
	Writer     *overlapio.Writer
	Stats      *stats.Counters
	Log        *log.Logger

	// Capture, when non-nil, receives a copy of every emitted record in
	// addition to the normal buffered write path. Used by
	// internal/scenario to assert against individual records without
	// parsing the on-disk wire format back out.
	Capture *RecordCapture

	stop int32
}

// RecordCapture is a small mutex-protected sink for test introspection.
type RecordCapture struct {
	mu      sync.Mutex
	Records []overlap.Record
}

func (c *RecordCapture) add(r overlap.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Records = append(c.Records, r)
}

// New constructs an Engine ready to Run.
func New(cfg *config.Config, hashStore, refStore store.Reader, w *overlapio.Writer, logger *log.Logger) *Engine {
	return &Engine{
		Cfg:       cfg,
		HashStore: hashStore,
		RefStore:  refStore,
		Writer:    w,
		Stats:     &stats.Counters{},
		Log:       logger,
	}
}

// Stop requests cooperative cancellation; in-flight extensions still run
// to completion (spec.md Section 5).
func (e *Engine) Stop() { atomic.StoreInt32(&e.stop, 1) }

func (e *Engine) stopped() bool { return atomic.LoadInt32(&e.stop) != 0 }

// Run executes successive hash-table batches until HashHi is exhausted,
// per spec.md Section 2's control flow.
func (e *Engine) Run() error {
	hLo := e.Cfg.HashLo
	batchNum := 0
	for hLo <= e.Cfg.HashHi && hLo <= e.HashStore.NumReads() {
		idx, err := hashindex.New(e.Cfg)
		if err != nil {
			return fmt.Errorf("engine: building index params: %w", err)
		}
		if err := idx.Build(e.HashStore, hLo); err != nil {
			return fmt.Errorf("engine: batch %d index build: %w", batchNum, err)
		}
		e.Stats.AddReadsSkippedShort(idx.SkippedShort)
		e.Stats.AddHashBucketsFull(idx.BucketsFull)
		if e.Log != nil {
			e.Log.Printf("batch %d: hash reads [%d,%d], %d entries", batchNum, idx.HLo, idx.HEnd, idx.Entries)
		}
		if idx.HEnd < idx.HLo {
			break // no progress possible; avoid spinning forever
		}

		if err := e.runBatch(idx); err != nil {
			return err
		}
		if e.stopped() {
			break
		}
		hLo = idx.HEnd + 1
		batchNum++
	}
	return nil
}

// runBatch partitions [RefLo,RefHi] across WorkerThreadCount goroutines,
// each running the seed→chain→extend→classify→write pipeline over its
// slab of reference reads, and joins before returning (spec.md Section 5).
func (e *Engine) runBatch(idx *hashindex.Index) error {
	lo, hi := e.Cfg.RefLo, e.Cfg.RefHi
	if hi > e.RefStore.NumReads() {
		hi = e.RefStore.NumReads()
	}
	if lo > hi {
		return nil
	}

	n := hi - lo + 1
	workers := e.Cfg.WorkerThreadCount
	if uint32(workers) > n {
		workers = int(n)
	}
	if workers < 1 {
		workers = 1
	}
	perWorker := (n + uint32(workers) - 1) / uint32(workers)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		wLo := lo + uint32(w)*perWorker
		wHi := wLo + perWorker - 1
		if wHi > hi {
			wHi = hi
		}
		if wLo > wHi {
			continue
		}
		wg.Add(1)
		go func(w int, wLo, wHi uint32) {
			defer wg.Done()
			errs[w] = e.workerLoop(idx, wLo, wHi)
		}(w, wLo, wHi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// workerLoop implements spec.md Section 2's per-worker steps 3→4→5→6 for
// every reference read in [wLo,wHi].
func (e *Engine) workerLoop(idx *hashindex.Index, wLo, wHi uint32) error {
	tbl := chain.NewTable(e.Cfg.KmerLen, e.Cfg.KmerSkip)
	ring := overlapio.NewRing(e.Writer)
	emt := &limiter{limit: e.Cfg.FragOlapLimit}

	table := align.NewEditMatchLimitTable(e.Cfg.ErrorRateMax, e.Cfg.ErrLimit())

	var buf []byte
	for id := wLo; id <= wHi; id++ {
		if e.stopped() {
			break
		}
		length, err := e.RefStore.Length(id)
		if err != nil {
			return fmt.Errorf("engine: ref read %d length: %w", id, err)
		}
		if length < e.Cfg.MinOverlapLength {
			e.Stats.AddReadsSkippedShort(1)
			continue
		}
		buf, err = e.RefStore.Bases(id, buf)
		if err != nil {
			return fmt.Errorf("engine: ref read %d bases: %w", id, err)
		}
		seqFwd := append([]byte(nil), buf...)
		seqRev := kmer.ReverseComplement(seqFwd)

		// buckets holds, per target read, every accepted extension found
		// across both strand scans of this one reference read (spec.md
		// Section 4.6); it is consulted only after both strands have run,
		// so a dovetail found on the forward scan and one found on the
		// reverse scan of the same (ref,target) pair merge or collapse
		// together instead of being written as two records.
		buckets := make(map[uint32]*overlap.Bucket)

		if err := e.scanStrand(idx, id, length, seqFwd, false, tbl, table, buckets); err != nil {
			return err
		}
		if err := e.scanStrand(idx, id, length, seqRev, true, tbl, table, buckets); err != nil {
			return err
		}
		if err := e.finishRead(id, buckets, ring, emt); err != nil {
			return err
		}
	}
	return ring.Flush()
}

// scanStrand runs Find_Overlaps for one strand, then extends and
// classifies every resulting bundle, feeding each accepted extension into
// its target's Bucket instead of emitting it directly (spec.md Section 4.5
// and Section 4.6's Add_Overlap).
func (e *Engine) scanStrand(idx *hashindex.Index, refID uint32, refLen int, seq []byte, reverse bool,
	tbl *chain.Table, table *align.EditMatchLimitTable, buckets map[uint32]*overlap.Bucket) error {

	tbl.Reset()
	res := seed.FindOverlaps(idx, refID, seq, tbl)
	e.Stats.AddKmerHitsWithOverlap(int64(res.SeedsEmitted))
	e.Stats.AddKmerHitsWithoutOverlap(int64(res.HopelessHits))

	errLimit := e.Cfg.ErrLimitForLength(refLen)

	for _, b := range tbl.Live() {
		if !b.Consistent {
			continue
		}
		anchor := b.Longest()
		if anchor == nil {
			continue
		}

		targetBatchID := b.TargetRef
		targetID := idx.ExternalID(targetBatchID)
		targetBases := idx.Bases(targetBatchID)
		targetLen := len(targetBases)

		seedEnd := anchor.Start + anchor.Len
		tgtSeedEnd := anchor.Offset + anchor.Len

		right := align.PrefixEditDist(seq[seedEnd:], targetBases[tgtSeedEnd:], errLimit, e.Cfg.ErrorRateMax, table, e.Cfg.PartialOverlaps)
		left := align.PrefixEditDist(reverseBytes(seq[:anchor.Start]), reverseBytes(targetBases[:anchor.Offset]),
			errLimit-right.Errors, e.Cfg.ErrorRateMax, table, e.Cfg.PartialOverlaps)

		errs := left.Errors + right.Errors
		span := left.Length + anchor.Len + right.Length
		errBound := align.ErrorBound(e.Cfg.ErrorRateMax, span)
		if errs > errBound {
			e.Stats.AddRejectedLongWindow(1)
			continue
		}

		class := overlap.Classify(left, right)
		if class == overlap.None && !e.Cfg.PartialOverlaps {
			continue
		}
		if span < e.Cfg.MinOverlapLength {
			e.Stats.AddRejectedShortWindow(1)
			continue
		}

		cand := overlap.Candidate{
			RefID: refID, TgtID: targetID,
			RefLen: refLen, TgtLen: targetLen,
			RefLo: anchor.Start - left.Length, RefHi: seedEnd + right.Length,
			TgtLo: anchor.Offset - left.Length, TgtHi: tgtSeedEnd + right.Length,
			Diagonal: b.AvgDiagonal(),
			Reverse:  reverse,
			Errors:   errs,
			Class:    class,
			Deltas:   mergeDeltas(left.Deltas, right.Deltas),
		}

		buk, ok := buckets[targetID]
		if !ok {
			buk = &overlap.Bucket{}
			buckets[targetID] = buk
		}
		buk.AddOverlap(cand, e.Cfg.PartialOverlaps)
	}
	return nil
}

// finishRead drains every target's Bucket once both strands of reference
// read refID have been scanned, applying spec.md Section 4.6's collapse
// step before emitting: Combine_Into_One_Olap (full mode, -u) or
// Choose_Best_Partial (partial mode, -u) reduce each bucket to exactly one
// record per (a,b[,orient]); otherwise every surviving entry is emitted.
func (e *Engine) finishRead(refID uint32, buckets map[uint32]*overlap.Bucket, ring *overlapio.Ring, emt *limiter) error {
	targets := make([]uint32, 0, len(buckets))
	for t := range buckets {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	for _, targetID := range targets {
		buk := buckets[targetID]

		if e.Cfg.PartialOverlaps {
			cands := buk.Entries()
			if e.Cfg.UniqueOlapPerPair {
				cands = overlap.ChooseBestPartial(buk)
			}
			for _, cand := range cands {
				if err := e.emit(cand, overlap.CanonicalizePartial(cand), refID, targetID, ring, emt); err != nil {
					return err
				}
			}
			continue
		}

		if e.Cfg.UniqueOlapPerPair {
			best, ok := overlap.CombineIntoOne(buk)
			if !ok {
				continue
			}
			if err := e.emit(best, overlap.Canonicalize(best), refID, targetID, ring, emt); err != nil {
				return err
			}
			continue
		}
		for _, cand := range buk.Entries() {
			if err := e.emit(cand, overlap.Canonicalize(cand), refID, targetID, ring, emt); err != nil {
				return err
			}
		}
	}
	return nil
}

// emit applies the per-strand output cap and writes one record, folding in
// the same statistics bookkeeping scanStrand used to do inline.
func (e *Engine) emit(cand overlap.Candidate, rec overlap.Record, refID, targetID uint32, ring *overlapio.Ring, emt *limiter) error {
	if !emt.allow(refID, targetID) {
		return nil
	}
	if err := ring.Add(rec); err != nil {
		return err
	}
	if e.Capture != nil {
		e.Capture.add(rec)
	}
	e.Stats.AddTotalOverlaps(1)
	if cand.Class == overlap.Dovetail {
		e.Stats.AddDovetail(1)
	}
	if overlap.IsContained(rec) {
		e.Stats.AddContained(1)
	}
	return nil
}

// reverseBytes returns a reversed copy of b, used to present a prefix to
// PrefixEditDist as a "suffix extending backward" (spec.md Section 4.5
// step 5: "identical algorithm on the reversed prefixes").
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// mergeDeltas stitches the left and right halves' tracebacks into one
// signed delta sequence in genomic left-to-right order (spec.md Section
// 4.5 step 6, "Set_Right_Delta"/"Set_Left_Delta"). left.Deltas is ordered
// from the seed outward toward the read's start (it was computed against
// reversed prefixes), so it is reversed back into start-to-seed order
// before being joined with right.Deltas, which is already seed-to-end.
func mergeDeltas(left, right []align.Delta) []align.Delta {
	out := make([]align.Delta, 0, len(left)+len(right))
	for i := len(left) - 1; i >= 0; i-- {
		out = append(out, left[i])
	}
	return append(out, right...)
}

// limiter enforces FragOlapLimit (spec.md Section 6's -l flag): at most N
// overlaps per reference read when nonzero. The count is keyed by the
// reference id alone; it is not split by strand or by end.
type limiter struct {
	limit uint64
	mu    sync.Mutex
	seen  map[uint64]uint64
}

func (l *limiter) allow(a, b uint32) bool {
	if l.limit == 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[uint64]uint64)
	}
	key := uint64(a)
	l.seen[key]++
	return l.seen[key] <= l.limit
}

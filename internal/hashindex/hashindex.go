// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package hashindex builds the open-addressed, bucketed k-mer hash table
// that Phase A of the overlap engine fills once per batch (spec.md Section
// 4.2). It plays the same role in this engine that muscato_screen's Bloom
// sketch plays for muscato: a bounded-memory structure that a later scan
// phase probes for candidate hits, check-vector first.
package hashindex

import (
	"bufio"
	"fmt"
	"os"

	"github.com/golang-collections/go-datastructures/bitarray"
	"github.com/willf/bloom"

	"github.com/kshedden/ovlmatch/internal/config"
	"github.com/kshedden/ovlmatch/internal/kmer"
	"github.com/kshedden/ovlmatch/internal/store"
)

// HighestKmerLimit caps a bucket entry's hit counter, matching the
// original's HIGHEST_KMER_LIMIT so the counter never wraps a narrow field.
const HighestKmerLimit = 255

// HopelessMatch is the distance from a read end within which an "empty"
// k-mer occurrence marks that end screened.
const HopelessMatch = 90

// Packing describes how a StringRef's StringNum/Offset/Empty/Last fields are
// laid out within a uint64, replacing the source's compile-time bitfield
// macros with per-Index state (offset width depends on Config.MaxReadLength).
type Packing struct {
	offsetBits uint
	stringBits uint
	offsetMask uint64
	stringMask uint64
}

// NewPacking derives field widths wide enough for maxReadLength-base reads
// and maxReads batch members, reserving the top two bits for Empty and Last.
func NewPacking(maxReadLength int, maxReads uint32) (Packing, error) {
	ob := bitsFor(uint64(maxReadLength))
	sb := bitsFor(uint64(maxReads))
	if ob+sb > 62 {
		return Packing{}, fmt.Errorf("hashindex: offset+string bits %d+%d exceeds 62", ob, sb)
	}
	return Packing{
		offsetBits: ob,
		stringBits: sb,
		offsetMask: (uint64(1) << ob) - 1,
		stringMask: (uint64(1) << sb) - 1,
	}, nil
}

func bitsFor(n uint64) uint {
	b := uint(1)
	for (uint64(1) << b) <= n {
		b++
	}
	return b
}

// StringRef is the packed k-mer reference token of spec.md Section 3:
// [Last(1)][Empty(1)][Offset][StringNum].
type StringRef uint64

const (
	refLastBit  = uint64(1) << 63
	refEmptyBit = uint64(1) << 62
)

// Make packs a (stringNum, offset) k-mer reference.
func (p Packing) Make(stringNum uint32, offset int, empty, last bool) StringRef {
	v := (uint64(stringNum) & p.stringMask) | ((uint64(offset) & p.offsetMask) << p.stringBits)
	if empty {
		v |= refEmptyBit
	}
	if last {
		v |= refLastBit
	}
	return StringRef(v)
}

func (p Packing) StringNum(r StringRef) uint32 { return uint32(uint64(r) & p.stringMask) }
func (p Packing) Offset(r StringRef) int {
	return int((uint64(r) >> p.stringBits) & p.offsetMask)
}
func (p Packing) Empty(r StringRef) bool { return uint64(r)&refEmptyBit != 0 }
func (p Packing) Last(r StringRef) bool  { return uint64(r)&refLastBit != 0 }

func (p Packing) WithEmpty(r StringRef, empty bool) StringRef {
	if empty {
		return StringRef(uint64(r) | refEmptyBit)
	}
	return StringRef(uint64(r) &^ refEmptyBit)
}

func (p Packing) WithLast(r StringRef, last bool) StringRef {
	if last {
		return StringRef(uint64(r) | refLastBit)
	}
	return StringRef(uint64(r) &^ refLastBit)
}

// EncodeOverflowIndex repurposes the StringNum/Offset fields of a non-last
// bucket entry to hold the starting index of its coalesced overflow chain.
func (p Packing) EncodeOverflowIndex(idx int) StringRef {
	return p.Make(uint32(uint64(idx)&p.stringMask), int((uint64(idx)>>p.stringBits)&p.offsetMask), false, false)
}

func (p Packing) DecodeOverflowIndex(r StringRef) int {
	return int(uint64(p.StringNum(r)) | (uint64(p.Offset(r)) << p.stringBits))
}

type bucketEntry struct {
	ref   StringRef
	check uint8
	hits  uint8
}

type bucket struct {
	entries []bucketEntry
	count   int16
}

// ReadInfo records per-hash-read metadata populated during Build, matching
// spec.md Section 3's "Read info" entity.
type ReadInfo struct {
	ID            uint32 // external store id
	Length        int
	LeftScreened  bool
	RightScreened bool
	arenaOffset   int
}

// Index is the hash-based k-mer index for a single batch of hash reads.
type Index struct {
	cfg  *config.Config
	kp   kmer.Params
	pack Packing

	buckets  []bucket
	checkVec bitarray.BitArray

	arena    []byte
	readInfo []ReadInfo

	// nextRef threads duplicate occurrences during Build; it is freed
	// once Build coalesces chains into overflow.
	nextRef   []StringRef
	hasNext   []bool
	overflow  []StringRef

	HLo, HEnd uint32
	Entries   uint64

	// SkippedShort counts hash reads rejected by Build for falling below
	// MinOverlapLength; BucketsFull counts probe steps taken because a
	// bucket was already at capacity. Both feed the engine's end-of-run
	// statistics report (spec.md Section 7).
	SkippedShort int64
	BucketsFull  int64

	skipBloom *bloom.BloomFilter
}

// New allocates an empty index sized per cfg.
func New(cfg *config.Config) (*Index, error) {
	kp, err := kmer.NewParams(cfg.KmerLen, cfg.HashMaskBits)
	if err != nil {
		return nil, err
	}
	pack, err := NewPacking(cfg.MaxReadLength, uint32(cfg.HashDataLen/uint64(cfg.MaxReadLength)+1))
	if err != nil {
		return nil, err
	}
	idx := &Index{
		cfg:     cfg,
		kp:      kp,
		pack:    pack,
		buckets: make([]bucket, kp.T),
	}
	return idx, nil
}

// reset clears per-batch state so the same Index can be reused across
// batches without reallocating the bucket table.
func (idx *Index) reset() {
	for i := range idx.buckets {
		idx.buckets[i].entries = idx.buckets[i].entries[:0]
		idx.buckets[i].count = 0
	}
	idx.checkVec = bitarray.NewBitArray(idx.kp.T * 32)
	idx.arena = idx.arena[:0]
	idx.readInfo = idx.readInfo[:0]
	idx.overflow = idx.overflow[:0]
	idx.Entries = 0
	idx.SkippedShort = 0
	idx.BucketsFull = 0
}

// Build ingests hash reads starting at hLo until one of the batch caps is
// hit, per spec.md Section 4.2.
func (idx *Index) Build(src store.Reader, hLo uint32) error {
	idx.reset()
	idx.HLo = hLo

	skip := idx.cfg.KmerSkip
	stride := 1 + skip
	maxEntries := uint64(float64(idx.kp.T) * float64(idx.cfg.BucketEntries) * idx.cfg.HashLoadMax)

	var baseCount uint64
	var buf []byte
	id := hLo
	last := hLo
	n := src.NumReads()

	nextRefCap := int(idx.cfg.HashDataLen/uint64(stride)) + 1
	idx.nextRef = make([]StringRef, nextRefCap)
	idx.hasNext = make([]bool, nextRefCap)

	for ; id <= n; id++ {
		if idx.cfg.HashHi != 0 && id > idx.cfg.HashHi {
			break
		}
		length, err := src.Length(id)
		if err != nil {
			return fmt.Errorf("hashindex: reading length of read %d: %w", id, err)
		}
		if length < idx.cfg.MinOverlapLength {
			idx.SkippedShort++
			last = id + 1
			continue
		}
		if idx.Entries >= maxEntries || baseCount >= idx.cfg.HashDataLen {
			break
		}

		buf, err = src.Bases(id, buf)
		if err != nil {
			return fmt.Errorf("hashindex: reading bases of read %d: %w", id, err)
		}
		if length > idx.cfg.MaxReadLength {
			length = idx.cfg.MaxReadLength
			buf = buf[:length]
		}

		for len(idx.arena)%stride != 0 {
			idx.arena = append(idx.arena, 0)
		}
		start := len(idx.arena)
		idx.arena = append(idx.arena, buf...)
		readIdx := uint32(len(idx.readInfo))
		idx.readInfo = append(idx.readInfo, ReadInfo{ID: id, Length: length, arenaOffset: start})

		cur := kmer.NewCursor(idx.cfg.KmerLen)
		for p := 0; p < length; p++ {
			v, valid := cur.Push(buf[p])
			kstart := p - idx.cfg.KmerLen + 1
			if !valid || kstart < 0 || kstart%stride != 0 {
				continue
			}
			bit := idx.kp.H(v)*32 + uint64(idx.kp.V(v))
			idx.checkVec.SetBit(bit)
			ref := idx.pack.Make(readIdx, kstart, false, true)
			slot := (start + kstart) / stride
			if err := idx.Insert(v, ref, slot); err != nil {
				return err
			}
		}
		baseCount += uint64(length)
		last = id + 1
	}

	idx.HEnd = last - 1
	if err := idx.coalesce(); err != nil {
		return err
	}
	idx.nextRef = nil
	idx.hasNext = nil
	return nil
}

// Insert implements the per-kmer insertion rule of spec.md Section 4.2.
func (idx *Index) Insert(v uint64, ref StringRef, slot int) error {
	s := idx.kp.H(v)
	c := idx.kp.C(v)
	pr := idx.kp.P(v)
	if slot >= 0 {
		idx.growNextRef(slot)
	}

	visited := uint64(0)
	b := s
	for visited < idx.kp.T {
		bk := &idx.buckets[b]
		for i := range bk.entries {
			e := &bk.entries[i]
			if e.check == c && idx.sameKey(e.ref, v) {
				old := e.ref
				idx.nextRef[slot] = old
				idx.hasNext[slot] = true
				e.ref = idx.pack.WithLast(ref, false)
				e.check = c
				if e.hits < HighestKmerLimit {
					e.hits++
				}
				return nil
			}
		}
		if int(bk.count) < idx.cfg.BucketEntries {
			bk.entries = append(bk.entries, bucketEntry{ref: idx.pack.WithLast(ref, true), check: c, hits: 1})
			bk.count++
			idx.Entries++
			return nil
		}
		idx.BucketsFull++
		b = (b + pr) & (idx.kp.T - 1)
		visited++
	}
	return fmt.Errorf("hashindex: table full inserting kmer (load factor misconfigured)")
}

// growNextRef extends nextRef/hasNext so index slot is addressable. The
// initial allocation in Build is sized off HashDataLen/stride, but the base
// budget is checked before a read is appended rather than after, so the
// final ingested read's k-mer slots can land past that estimate; growing
// on demand here is simpler than re-deriving an exact bound and is only
// ever exercised for the handful of slots in that last read.
func (idx *Index) growNextRef(slot int) {
	if slot < len(idx.nextRef) {
		return
	}
	grown := make([]StringRef, slot+1)
	copy(grown, idx.nextRef)
	idx.nextRef = grown
	grownHas := make([]bool, slot+1)
	copy(grownHas, idx.hasNext)
	idx.hasNext = grownHas
}

// sameKey compares a stored reference's source bases against v, byte for
// byte, to reject hash/check collisions (spec.md Section 4.2).
func (idx *Index) sameKey(r StringRef, v uint64) bool {
	sn := idx.pack.StringNum(r)
	if int(sn) >= len(idx.readInfo) {
		return false
	}
	ri := idx.readInfo[sn]
	off := idx.pack.Offset(r)
	start := ri.arenaOffset + off
	if start+idx.cfg.KmerLen > len(idx.arena) {
		return false
	}
	w, ok := kmer.Encode(idx.arena[start:start+idx.cfg.KmerLen], idx.cfg.KmerLen)
	return ok && w == v
}

// coalesce rewrites every non-last bucket entry to point at a contiguous
// slice of the overflow array, per spec.md Section 4.2's chain-coalescing
// step, then runs high-hit marking and the skip-file loader.
func (idx *Index) coalesce() error {
	for bi := range idx.buckets {
		bk := &idx.buckets[bi]
		for ei := range bk.entries {
			e := &bk.entries[ei]
			if idx.pack.Last(e.ref) {
				continue
			}
			startIdx := len(idx.overflow)
			cur := e.ref
			for {
				sn := idx.pack.StringNum(cur)
				off := idx.pack.Offset(cur)
				stride := 1 + idx.cfg.KmerSkip
				slot := -1
				if int(sn) < len(idx.readInfo) {
					slot = (idx.readInfo[sn].arenaOffset + off) / stride
				}
				if slot < 0 || slot >= len(idx.hasNext) || !idx.hasNext[slot] {
					idx.overflow = append(idx.overflow, idx.pack.WithLast(cur, true))
					break
				}
				idx.overflow = append(idx.overflow, idx.pack.WithLast(cur, false))
				cur = idx.nextRef[slot]
			}
			e.ref = idx.pack.EncodeOverflowIndex(startIdx)
		}
	}
	idx.markHighHit()
	if idx.cfg.SkipFileName != "" {
		if err := idx.LoadSkipFile(idx.cfg.SkipFileName); err != nil {
			return err
		}
	}
	return nil
}

// markHighHit implements the high-hit-marking post-build step: k-mers
// whose chain exceeds HighHitLimit are marked empty, and near-end
// occurrences set the owning read's screened flags.
func (idx *Index) markHighHit() {
	limit := idx.cfg.HighHitLimit
	for bi := range idx.buckets {
		bk := &idx.buckets[bi]
		for ei := range bk.entries {
			e := &bk.entries[ei]
			if int(e.hits) <= limit {
				continue
			}
			idx.markChainEmpty(e)
		}
	}
}

func (idx *Index) markChainEmpty(e *bucketEntry) {
	if idx.pack.Last(e.ref) {
		idx.markScreenedEnd(e.ref)
		e.ref = idx.pack.WithEmpty(e.ref, true)
		return
	}
	startIdx := idx.pack.DecodeOverflowIndex(e.ref)
	for i := startIdx; i < len(idx.overflow); i++ {
		r := idx.overflow[i]
		idx.overflow[i] = idx.pack.WithEmpty(r, true)
		idx.markScreenedEnd(r)
		if idx.pack.Last(r) {
			break
		}
	}
	e.ref = idx.pack.WithEmpty(e.ref, true)
}

func (idx *Index) markScreenedEnd(r StringRef) {
	sn := idx.pack.StringNum(r)
	if int(sn) >= len(idx.readInfo) {
		return
	}
	ri := &idx.readInfo[sn]
	off := idx.pack.Offset(r)
	if off <= HopelessMatch {
		ri.LeftScreened = true
	}
	if off+idx.cfg.KmerLen >= ri.Length-HopelessMatch {
		ri.RightScreened = true
	}
}

// Find walks the probe chain for v, returning the bucket entry whose check
// code and source bases match, and a slice of the full overflow chain
// (including the head) when the match has duplicates.
func (idx *Index) Find(v uint64) (head StringRef, chain []StringRef, found bool) {
	s := idx.kp.H(v)
	vb := idx.kp.V(v)
	bit := s*32 + uint64(vb)
	if ok, _ := idx.checkVec.GetBit(bit); !ok {
		return 0, nil, false
	}
	c := idx.kp.C(v)
	pr := idx.kp.P(v)

	visited := uint64(0)
	b := s
	for visited < idx.kp.T {
		bk := &idx.buckets[b]
		for _, e := range bk.entries {
			key := e.ref
			if !idx.pack.Last(e.ref) && idx.pack.DecodeOverflowIndex(e.ref) < len(idx.overflow) {
				key = idx.overflow[idx.pack.DecodeOverflowIndex(e.ref)]
			}
			if e.check == c && idx.sameKey(key, v) {
				if idx.pack.Last(e.ref) {
					return e.ref, []StringRef{e.ref}, true
				}
				startIdx := idx.pack.DecodeOverflowIndex(e.ref)
				for i := startIdx; i < len(idx.overflow); i++ {
					r := idx.overflow[i]
					chain = append(chain, r)
					if idx.pack.Last(r) {
						break
					}
				}
				return e.ref, chain, true
			}
		}
		if int(bk.count) < idx.cfg.BucketEntries {
			return 0, nil, false
		}
		b = (b + pr) & (idx.kp.T - 1)
		visited++
	}
	return 0, nil, false
}

// ReadInfoAt returns the metadata recorded for the i-th hash read ingested
// during Build (0-based within the batch).
func (idx *Index) ReadInfoAt(i uint32) ReadInfo {
	return idx.readInfo[i]
}

// ExternalID maps a batch-local StringNum back to its 1-based id in the
// backing read store.
func (idx *Index) ExternalID(batchIdx uint32) uint32 {
	return idx.readInfo[batchIdx].ID
}

// Bases returns the full base slice of the batch-local read batchIdx, a
// view into the index's shared arena (read-only for the lifetime of the
// batch, per spec.md Section 5).
func (idx *Index) Bases(batchIdx uint32) []byte {
	ri := idx.readInfo[batchIdx]
	return idx.arena[ri.arenaOffset : ri.arenaOffset+ri.Length]
}

// ReadLength returns the length of the batch-local read batchIdx.
func (idx *Index) ReadLength(batchIdx uint32) int {
	return idx.readInfo[batchIdx].Length
}

// Pack exposes the index's field-packing helper for callers in other
// packages (seed enumeration needs Offset/StringNum/Empty/Last).
func (idx *Index) Pack() Packing { return idx.pack }

// Params exposes the derived hash parameters for the current k and H.
func (idx *Index) Params() kmer.Params { return idx.kp }

// MinKmerFilter exposes Config.MinKmerFilter to the seed scanner, which
// uses it to size the low-complexity rolling-hash pre-filter.
func (idx *Index) MinKmerFilter() int { return idx.cfg.MinKmerFilter }

// LoadSkipFile implements the frequent-k-mer ignore-file loader of
// spec.md Section 4.2: every listed k-mer and its reverse complement is
// located via Find and marked empty; unseen k-mers are inserted as
// empty-marked placeholders so Find still screens them later. A Bloom
// filter is consulted first as a cheap negative-membership check before
// walking the exact structure, the same shape as the teacher's
// writeNonMatch post-hoc filter.
func (idx *Index) LoadSkipFile(path string) error {
	fid, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hashindex: opening skip file: %w", err)
	}
	defer fid.Close()

	idx.skipBloom = bloom.NewWithEstimates(1_000_000, 0.01)

	scanner := bufio.NewScanner(fid)
	for scanner.Scan() {
		kmerStr := scanner.Bytes()
		if len(kmerStr) == 0 {
			continue
		}
		idx.skipBloom.Add(kmerStr)
		if err := idx.screenKmerText(kmerStr); err != nil {
			return err
		}
		rc := kmer.ReverseComplement(kmerStr)
		idx.skipBloom.Add(rc)
		if err := idx.screenKmerText(rc); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (idx *Index) screenKmerText(text []byte) error {
	v, ok := kmer.Encode(text, idx.cfg.KmerLen)
	if !ok {
		return nil
	}
	if idx.skipBloom != nil && !idx.skipBloom.Test(text) {
		return nil
	}
	_, chain, found := idx.Find(v)
	if !found {
		// Insert a placeholder so future probes of this kmer screen it
		// even though no hash read happened to contain it.
		ref := idx.pack.Make(0, 0, true, true)
		return idx.Insert(v, ref, -1)
	}
	for _, r := range chain {
		idx.markScreenedEnd(r)
	}
	idx.markChainByHead(v)
	return nil
}

func (idx *Index) markChainByHead(v uint64) {
	s := idx.kp.H(v)
	c := idx.kp.C(v)
	pr := idx.kp.P(v)
	visited := uint64(0)
	b := s
	for visited < idx.kp.T {
		bk := &idx.buckets[b]
		for ei := range bk.entries {
			e := &bk.entries[ei]
			key := e.ref
			if !idx.pack.Last(e.ref) && idx.pack.DecodeOverflowIndex(e.ref) < len(idx.overflow) {
				key = idx.overflow[idx.pack.DecodeOverflowIndex(e.ref)]
			}
			if e.check == c && idx.sameKey(key, v) {
				e.ref = idx.pack.WithEmpty(e.ref, true)
				if !idx.pack.Last(e.ref) {
					startIdx := idx.pack.DecodeOverflowIndex(e.ref)
					for i := startIdx; i < len(idx.overflow); i++ {
						idx.overflow[i] = idx.pack.WithEmpty(idx.overflow[i], true)
						if idx.pack.Last(idx.overflow[i]) {
							break
						}
					}
				}
				return
			}
		}
		if int(bk.count) < idx.cfg.BucketEntries {
			return
		}
		b = (b + pr) & (idx.kp.T - 1)
		visited++
	}
}

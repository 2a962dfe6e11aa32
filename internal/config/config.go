// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package config holds the run configuration for ovlmatch, read from a
// JSON file and/or command-line flags, the way utils.Config works in the
// teacher tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config collects every tunable named in the overlap engine specification.
type Config struct {
	// Error rate used everywhere for Edit_Match_Limit, Error_Bound and
	// Branch_Match_Value = rho/(1+rho).
	ErrorRateMax float64

	// When true, permit non-dovetail extensions (partial/Granger mode).
	PartialOverlaps bool

	// Inclusive read-id ranges, 1-based.
	HashLo uint32
	HashHi uint32
	RefLo  uint32
	RefHi  uint32

	// K-mer length. Must satisfy 2*KmerLen < 64.
	KmerLen int

	// Number of positions skipped between successive indexed k-mers
	// within a read; 0 means every k-mer is indexed.
	KmerSkip int

	// Hash reads longer than this are truncated to it when indexed; also
	// used to size the packed k-mer-reference offset field.
	MaxReadLength int

	// Optional path to a list of frequent k-mers to pre-screen.
	SkipFileName string

	// Hash table sizing.
	HashMaskBits  uint
	HashDataLen   uint64
	HashLoadMax   float64
	BucketEntries int // entries per bucket (21, 31 or 42 recommended)

	// Output cap per reference read, counting both strands and both ends
	// together; 0 means unlimited.
	FragOlapLimit uint64

	// At most one overlap record per ordered (a,b) pair.
	UniqueOlapPerPair bool

	WorkerThreadCount int

	MinOverlapLength int
	UseHopelessCheck bool
	MinKmerFilter    int

	// Hi_Hit_Limit: kmers with more hits than this are screened.
	HighHitLimit int

	OutputFileName    string
	StatisticsFile    string
	ReadStoreFileName string

	LogDir  string
	TempDir string

	CPUProfile bool
}

// Default returns a Config carrying the same defaults the teacher's
// checkArgs applies when a flag/field is left unset.
func Default() *Config {
	return &Config{
		ErrorRateMax:      0.06,
		HashLo:            1,
		HashHi:            ^uint32(0),
		RefLo:             1,
		RefHi:             ^uint32(0),
		MaxReadLength:     100000,
		HashMaskBits:      22,
		HashDataLen:       100 * 1000 * 1000,
		HashLoadMax:       0.6,
		BucketEntries:     21,
		FragOlapLimit:     0,
		UniqueOlapPerPair: true,
		WorkerThreadCount: 4,
		MinOverlapLength:  40,
		UseHopelessCheck:  true,
		HighHitLimit:      1 << 30,
	}
}

// Load reads a JSON configuration file, the way utils.ReadConfig does.
func Load(path string) (*Config, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	cfg := Default()
	dec := json.NewDecoder(fid)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration in JSON form, mirroring saveConfig in the
// teacher's driver (used so a run's effective configuration is recorded
// alongside its logs).
func (c *Config) Save(path string) error {
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fid.Close()
	enc := json.NewEncoder(fid)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Validate implements the configuration-error taxonomy of spec.md Section 7:
// problems are reported once, before any batch begins.
func (c *Config) Validate() error {
	if c.KmerLen <= 0 {
		return fmt.Errorf("config: KmerLen must be set")
	}
	if 2*c.KmerLen >= 64 {
		return fmt.Errorf("config: KmerLen=%d violates 2k < 64", c.KmerLen)
	}
	if c.OutputFileName == "" {
		return fmt.Errorf("config: OutputFileName must be set")
	}
	if c.HashLo > c.HashHi {
		return fmt.Errorf("config: hash_read_range [%d,%d] is empty", c.HashLo, c.HashHi)
	}
	if c.RefLo > c.RefHi {
		return fmt.Errorf("config: ref_read_range [%d,%d] is empty", c.RefLo, c.RefHi)
	}
	if c.HashMaskBits == 0 || c.HashMaskBits > 32 {
		return fmt.Errorf("config: HashMaskBits=%d out of range", c.HashMaskBits)
	}
	if c.BucketEntries <= 0 {
		return fmt.Errorf("config: BucketEntries must be positive")
	}
	if c.WorkerThreadCount <= 0 {
		return fmt.Errorf("config: WorkerThreadCount must be positive")
	}
	if c.PartialOverlaps && c.ErrorRateMax > 0.06 && c.MinKmerFilter > 0 {
		return fmt.Errorf("config: partial mode with kmer window filter enabled is inconsistent at error_rate_max > 0.06")
	}
	return nil
}

// BranchMatchValue is M = rho/(1+rho), used by the banded extender's
// branch-point heuristic.
func (c *Config) BranchMatchValue() float64 {
	return c.ErrorRateMax / (1 + c.ErrorRateMax)
}

// ErrLimit returns the maximum number of errors an extension may
// accumulate before the banded DP gives up, sized generously above
// Error_Bound for the longest read MaxReadLength permits. It is a ceiling,
// not a per-extension budget: use ErrLimitForLength once an actual read's
// length is known.
func (c *Config) ErrLimit() int {
	n := int(c.ErrorRateMax*float64(c.MaxReadLength)) + 4
	if n < 4 {
		n = 4
	}
	return n
}

// ErrLimitForLength returns the error budget for extending a read of
// length n: rho*n rounded down, plus the same +4 margin ErrLimit applies,
// clamped to ErrLimit's MaxReadLength-wide ceiling. Sizing the per-read
// call to the read actually being extended, rather than always to
// MaxReadLength, keeps the banded DP (and the Edit_Match_Limit entries it
// queries) from reaching for error levels no read in the batch can need.
func (c *Config) ErrLimitForLength(n int) int {
	limit := int(c.ErrorRateMax*float64(n)) + 4
	if limit < 4 {
		limit = 4
	}
	if global := c.ErrLimit(); limit > global {
		limit = global
	}
	return limit
}

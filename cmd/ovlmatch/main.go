// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Command ovlmatch is the sole entry point for the overlap engine,
// mirroring cmd/muscato's handleArgs/checkArgs pattern: a JSON config file
// is loaded first, then individual flags override fields one at a time.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/profile"

	"github.com/kshedden/ovlmatch/internal/config"
	"github.com/kshedden/ovlmatch/internal/engine"
	"github.com/kshedden/ovlmatch/internal/overlapio"
	"github.com/kshedden/ovlmatch/internal/stats"
	"github.com/kshedden/ovlmatch/internal/store"
)

func main() {
	cfg := handleArgs()
	if err := checkArgs(cfg); err != nil {
		log.Fatalf("ovlmatch: %v", err)
	}

	if cfg.CPUProfile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.TempDir)).Stop()
	}

	if err := run(cfg); err != nil {
		log.Fatalf("ovlmatch: %v", err)
	}
}

// handleArgs layers flag overrides on top of an optional JSON config file,
// the same two-step shape as the teacher's handleArgs.
func handleArgs() *config.Config {
	configFile := flag.String("config", "", "path to a JSON configuration file")
	k := flag.Int("k", 0, "k-mer length (overrides config)")
	errRate := flag.Float64("e", 0, "error_rate_max (overrides config)")
	partial := flag.Bool("G", false, "partial_overlaps")
	hashLo := flag.Uint("h", 0, "hash_read_range lower bound")
	hashHi := flag.Uint("H", 0, "hash_read_range upper bound")
	refLo := flag.Uint("r", 0, "ref_read_range lower bound")
	refHi := flag.Uint("R", 0, "ref_read_range upper bound")
	hashBits := flag.Uint("hashbits", 0, "hash_mask_bits")
	hashDataLen := flag.Uint64("hashdatalen", 0, "hash_data_len")
	hashLoad := flag.Float64("hashload", 0, "hash_load_max")
	fragLimit := flag.Uint64("l", 0, "frag_olap_limit")
	unique := flag.Bool("u", false, "unique_olap_per_pair")
	threads := flag.Int("t", 0, "worker_thread_count")
	minLen := flag.Int("minlength", 0, "min_overlap_length")
	hopeless := flag.Bool("z", false, "use_hopeless_check")
	skipFile := flag.String("k-skip-file", "", "frequent-kmer ignore file")
	readStore := flag.String("reads", "", "read store file")
	output := flag.String("o", "", "overlap output file")
	statsFile := flag.String("s", "", "statistics output file")
	cpuprofile := flag.Bool("cpuprofile", false, "enable CPU profiling")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("ovlmatch: loading config: %v", err)
		}
		cfg = loaded
	}

	if *k != 0 {
		cfg.KmerLen = *k
	}
	if *errRate != 0 {
		cfg.ErrorRateMax = *errRate
	}
	if *partial {
		cfg.PartialOverlaps = true
	}
	if *hashLo != 0 {
		cfg.HashLo = uint32(*hashLo)
	}
	if *hashHi != 0 {
		cfg.HashHi = uint32(*hashHi)
	}
	if *refLo != 0 {
		cfg.RefLo = uint32(*refLo)
	}
	if *refHi != 0 {
		cfg.RefHi = uint32(*refHi)
	}
	if *hashBits != 0 {
		cfg.HashMaskBits = *hashBits
	}
	if *hashDataLen != 0 {
		cfg.HashDataLen = *hashDataLen
	}
	if *hashLoad != 0 {
		cfg.HashLoadMax = *hashLoad
	}
	if *fragLimit != 0 {
		cfg.FragOlapLimit = *fragLimit
	}
	if *unique {
		cfg.UniqueOlapPerPair = true
	}
	if *threads != 0 {
		cfg.WorkerThreadCount = *threads
	}
	if *minLen != 0 {
		cfg.MinOverlapLength = *minLen
	}
	if *hopeless {
		cfg.UseHopelessCheck = true
	}
	if *skipFile != "" {
		cfg.SkipFileName = *skipFile
	}
	if *readStore != "" {
		cfg.ReadStoreFileName = *readStore
	}
	if *output != "" {
		cfg.OutputFileName = *output
	}
	if *statsFile != "" {
		cfg.StatisticsFile = *statsFile
	}
	if *cpuprofile {
		cfg.CPUProfile = true
	}

	return cfg
}

// checkArgs validates the effective configuration once, before any batch
// begins, per spec.md Section 7.
func checkArgs(cfg *config.Config) error {
	if cfg.ReadStoreFileName == "" {
		return fmt.Errorf("missing required -reads flag")
	}
	return cfg.Validate()
}

func run(cfg *config.Config) error {
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return err
		}
	}
	logPath := filepath.Join(cfg.LogDir, "ovlmatch.log")
	var logger *log.Logger
	if cfg.LogDir != "" {
		lf, err := os.Create(logPath)
		if err != nil {
			return err
		}
		defer lf.Close()
		logger = log.New(lf, "", log.Ltime)
	} else {
		logger = log.New(os.Stderr, "", log.Ltime)
	}

	if cfg.TempDir != "" {
		lock, err := store.LockRun(cfg.TempDir)
		if err != nil {
			return fmt.Errorf("acquiring run lock: %w", err)
		}
		defer lock.Unlock()
	}

	rs, err := store.OpenFileReader(cfg.ReadStoreFileName, true)
	if err != nil {
		return fmt.Errorf("opening read store: %w", err)
	}

	w, err := overlapio.NewWriter(cfg.OutputFileName, cfg.PartialOverlaps)
	if err != nil {
		return fmt.Errorf("opening overlap output: %w", err)
	}

	eng := engine.New(cfg, rs, rs, w, logger)
	runErr := eng.Run()
	closeErr := w.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}

	if cfg.StatisticsFile != "" {
		if err := stats.Report(cfg.StatisticsFile, eng.Stats); err != nil {
			return fmt.Errorf("writing statistics: %w", err)
		}
	}
	return nil
}

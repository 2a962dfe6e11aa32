// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package store defines the read-store adapter the overlap engine consumes
// (spec.md Section 9): a small capability interface with an on-disk
// implementation and an in-memory mock used by tests, instead of a class
// hierarchy. Ids are 1-based and dense, matching spec.md Section 6.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"golang.org/x/sys/unix"
)

// Reader is the capability set the overlap engine needs from a read store:
// a read count, and per-id length/bases lookup.
type Reader interface {
	NumReads() uint32
	Length(id uint32) (int, error)
	Bases(id uint32, buf []byte) ([]byte, error)
}

// MemReader is an in-memory Reader backed by a slice of sequences, used by
// tests in place of the on-disk store.
type MemReader struct {
	seqs [][]byte
}

// NewMemReader builds a MemReader from 1-based sequential reads.
func NewMemReader(seqs ...string) *MemReader {
	r := &MemReader{seqs: make([][]byte, len(seqs))}
	for i, s := range seqs {
		r.seqs[i] = []byte(strings.ToLower(s))
	}
	return r
}

func (r *MemReader) NumReads() uint32 { return uint32(len(r.seqs)) }

func (r *MemReader) Length(id uint32) (int, error) {
	s, err := r.seq(id)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

func (r *MemReader) Bases(id uint32, buf []byte) ([]byte, error) {
	s, err := r.seq(id)
	if err != nil {
		return nil, err
	}
	return append(buf[:0], s...), nil
}

func (r *MemReader) seq(id uint32) ([]byte, error) {
	if id < 1 || int(id) > len(r.seqs) {
		return nil, fmt.Errorf("store: read id %d out of range [1,%d]", id, len(r.seqs))
	}
	return r.seqs[id-1], nil
}

// FileReader reads a flat, tab-delimited container of the form
// "<id>\t<length>\t<bases>" per line, optionally snappy-compressed,
// grounded on utils.ReadInSeq's fastq scanner and the teacher's snappy
// container conventions. The whole file is indexed once at open time so
// random access by id is O(1).
type FileReader struct {
	bases  [][]byte
	length []int
}

// OpenFileReader loads a container in the format described on FileReader.
// If snappyCompressed is true, the
// file is wrapped in a snappy reader before scanning.
func OpenFileReader(path string, snappyCompressed bool) (*FileReader, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	var scanner *bufio.Scanner
	if snappyCompressed {
		scanner = bufio.NewScanner(snappy.NewReader(fid))
	} else {
		scanner = bufio.NewScanner(fid)
	}
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	fr := &FileReader{}
	for scanner.Scan() {
		fields := bytes.SplitN(scanner.Bytes(), []byte("\t"), 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("store: malformed container line %q", scanner.Text())
		}
		id, err := strconv.Atoi(string(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("store: bad id field: %w", err)
		}
		for len(fr.bases) < id {
			fr.bases = append(fr.bases, nil)
			fr.length = append(fr.length, 0)
		}
		seq := append([]byte(nil), fields[2]...)
		fr.bases[id-1] = seq
		fr.length[id-1] = len(seq)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fr, nil
}

func (f *FileReader) NumReads() uint32 { return uint32(len(f.bases)) }

func (f *FileReader) Length(id uint32) (int, error) {
	if id < 1 || int(id) > len(f.length) {
		return 0, fmt.Errorf("store: read id %d out of range", id)
	}
	return f.length[id-1], nil
}

func (f *FileReader) Bases(id uint32, buf []byte) ([]byte, error) {
	if id < 1 || int(id) > len(f.bases) {
		return nil, fmt.Errorf("store: read id %d out of range", id)
	}
	return append(buf[:0], f.bases[id-1]...), nil
}

// RunLock is an advisory exclusive lock on a run's temp directory. The
// teacher coordinates its shell-pipeline stages through named pipes
// (unix.Mkfifo in cmd/muscato/main.go); this engine runs entirely
// in-process, so the concurrency hazard Mkfifo solved there doesn't exist
// here. The hazard that remains is two separate ovlmatch processes
// pointed at the same TempDir/output path racing each other, so the same
// package (golang.org/x/sys/unix) is repurposed for unix.Flock instead.
type RunLock struct {
	f *os.File
}

// LockRun acquires a non-blocking exclusive lock on a sentinel file inside
// dir, creating dir if needed. It fails fast (rather than blocking) so a
// second invocation against the same run directory gets an immediate,
// actionable error instead of hanging.
func LockRun(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating run directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, ".ovlmatch.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: run directory %s is already locked by another process: %w", dir, err)
	}
	return &RunLock{f: f}, nil
}

// Unlock releases the lock and closes the sentinel file. The sentinel file
// itself is left behind; only its lock is released.
func (l *RunLock) Unlock() error {
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}

// NewFASTAReader parses a plain FASTA file into a FileReader, the way
// muscato_prep_targets turns target FASTA into the teacher's processed
// gene format.
func NewFASTAReader(path string) (*FileReader, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	scanner := bufio.NewScanner(fid)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	fr := &FileReader{}
	var cur []byte
	flush := func() {
		if cur != nil {
			fr.bases = append(fr.bases, cur)
			fr.length = append(fr.length, len(cur))
		}
	}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			flush()
			cur = []byte{}
			continue
		}
		cur = append(cur, bytes.ToLower(line)...)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fr, nil
}

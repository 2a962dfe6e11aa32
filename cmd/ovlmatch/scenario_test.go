// Copyright 2017, Kerby Shedden and the Muscato contributors.

package main

import (
	"path/filepath"
	"testing"

	"github.com/kshedden/ovlmatch/internal/overlap"
	"github.com/kshedden/ovlmatch/internal/scenario"
)

func TestScenarios(t *testing.T) {
	fixture, err := scenario.Load(filepath.Join("testdata", "scenarios.toml"))
	if err != nil {
		t.Fatalf("loading fixture: %v", err)
	}

	for _, c := range fixture.Case {
		c := c
		t.Run(c.Name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), c.Name+".ovl")
			records, err := scenario.Run(c, out)
			if err != nil {
				t.Fatalf("running scenario: %v", err)
			}
			if len(records) != c.ExpectOverlaps {
				t.Fatalf("got %d overlaps, want %d", len(records), c.ExpectOverlaps)
			}
			if c.ExpectOverlaps == 0 {
				return
			}
			r := records[0]
			if c.ExpectOrient != "" && r.Orientation.String() != c.ExpectOrient {
				t.Errorf("orientation = %s, want %s", r.Orientation, c.ExpectOrient)
			}
			if c.ExpectAHang != nil && r.AHang != *c.ExpectAHang {
				t.Errorf("a_hang = %d, want %d", r.AHang, *c.ExpectAHang)
			}
			if c.ExpectBHang != nil && r.BHang != *c.ExpectBHang {
				t.Errorf("b_hang = %d, want %d", r.BHang, *c.ExpectBHang)
			}
			if c.ExpectErrors != nil {
				want := overlap.QuantizeErrorRate(float64(*c.ExpectErrors) / float64(r.Span))
				if r.ErrorRate != want {
					t.Errorf("error_rate = %d, want %d (%d errors over span %d)",
						r.ErrorRate, want, *c.ExpectErrors, r.Span)
				}
			}
		})
	}
}

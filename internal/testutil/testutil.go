// Package testutil provides shared test fixtures and helpers.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ReferenceStations returns the three-station data set used across the
// storage and command tests, as ext timestamps per station id. Merged, it is
//
//	(0,s0) (0,s1) (10,s1) (15,s2) (100,s1) (200,s2) (250,s0) (251,s0)
//
// which groups into [0..4] [4,5] [5..7] with a window of 150.
func ReferenceStations() map[uint32][]int64 {
	return map[uint32][]int64{
		0: {0, 250, 251},
		1: {0, 10, 100},
		2: {15, 200},
	}
}

// WriteFile writes body to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

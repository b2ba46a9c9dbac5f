package main

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolveOutExplicit(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "nested", "x.ntex")
	got, defaulted, err := resolveOut("corpus.jsonl", want, ".ntex", "")
	if err != nil {
		t.Fatalf("resolveOut: %v", err)
	}
	if got != want || defaulted {
		t.Fatalf("got (%q, %v), want (%q, false)", got, defaulted, want)
	}
}

func TestResolveOutEnvBeatsConfig(t *testing.T) {
	envDir := t.TempDir()
	t.Setenv(envOutDir, envDir)

	got, defaulted, err := resolveOut("/data/corpus.jsonl", "", ".ntex", t.TempDir())
	if err != nil {
		t.Fatalf("resolveOut: %v", err)
	}
	if want := filepath.Join(envDir, "corpus.ntex"); got != want || !defaulted {
		t.Fatalf("got (%q, %v), want (%q, true)", got, defaulted, want)
	}
}

func TestResolveOutConfigDir(t *testing.T) {
	t.Setenv(envOutDir, "")
	cfgDir := t.TempDir()

	got, _, err := resolveOut("corpus.ntok", "", ".jsonl", cfgDir)
	if err != nil {
		t.Fatalf("resolveOut: %v", err)
	}
	if want := filepath.Join(cfgDir, "corpus.jsonl"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "1,2,3", want: []int{1, 2, 3}},
		{in: " 4, 5 6\t7 ", want: []int{4, 5, 6, 7}},
		{in: "", want: []int{}},
		{in: "1,x", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseIDs(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseIDs(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseIDs(%q): %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("parseIDs(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

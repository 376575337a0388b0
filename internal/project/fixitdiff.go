package project

import (
	"fmt"
	"os"
	"sort"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"navc/internal/symbols"
)

// RenderFixIts reads path's current on-disk content and renders the
// unified diff that applying fixits would produce, the "Fix-it
// unified-diff rendering" supplemented feature (SPEC_FULL.md), grounded
// on edward-ap-class-collector/internal/diff/diff.go's Unified.
func RenderFixIts(path string, fixits []symbols.FixIt) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("project: reading %s for fix-it rendering: %w", path, err)
	}
	patched := applyFixIts(string(original), fixits)
	if patched == string(original) {
		return "", nil
	}

	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(original)),
		B:        splitLinesKeepNL(patched),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(u)
}

// applyFixIts applies fixits back-to-front by Start offset, so an
// earlier edit's byte offsets aren't invalidated by a later one.
// Overlapping or out-of-range fixits are skipped rather than panicking.
func applyFixIts(src string, fixits []symbols.FixIt) string {
	ordered := make([]symbols.FixIt, len(fixits))
	copy(ordered, fixits)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	out := src
	// limit is the Start of the last applied fixit: a fixit reaching past
	// it overlaps one already applied.
	limit := len(src)
	for _, fi := range ordered {
		if fi.Start < 0 || fi.End > limit || fi.Start > fi.End {
			continue
		}
		out = out[:fi.Start] + fi.Replacement + out[fi.End:]
		limit = fi.Start
	}
	return out
}

func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

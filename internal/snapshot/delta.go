package snapshot

import (
	"slices"
	"strconv"
	"strings"

	"github.com/colonyops/revwatch/internal/core/review"
)

const fileHeaderPrefix = "diff --git "

// SplitDiff splits a unified git diff into per-file sections keyed by the
// target path of each "diff --git a/<old> b/<new>" header. Each section
// runs from its header up to the next header.
func SplitDiff(raw string) map[string]string {
	sections := make(map[string]string)

	var (
		path  string
		start = -1
	)
	flush := func(end int) {
		if start >= 0 {
			sections[path] = raw[start:end]
		}
	}

	offset := 0
	for offset < len(raw) {
		lineEnd := strings.IndexByte(raw[offset:], '\n')
		next := len(raw)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
		}

		line := strings.TrimSuffix(raw[offset:next], "\n")
		if strings.HasPrefix(line, fileHeaderPrefix) {
			flush(offset)
			path = targetPath(line)
			start = offset
		}
		offset = next
	}
	flush(len(raw))

	return sections
}

// targetPath extracts the b/ side of a diff header, handling git's quoted
// form for paths with unusual characters.
func targetPath(header string) string {
	rest := strings.TrimPrefix(header, fileHeaderPrefix)

	if strings.HasSuffix(rest, `"`) {
		if i := strings.LastIndex(rest, ` "`); i >= 0 {
			if p, err := strconv.Unquote(rest[i+1:]); err == nil {
				return strings.TrimPrefix(p, "b/")
			}
		}
	}

	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return rest[i+len(" b/"):]
	}
	return rest
}

// ChangedFiles returns the paths that differ between the current diff and
// the previous snapshot, sorted. It is empty when there is no previous
// snapshot or when both raw diffs are identical.
//
// A path counts as changed when its patch section text differs (or exists
// on one side only), or when its summary is new, removed, or has a
// different status or line counts.
func ChangedFiles(curRaw string, curFiles []review.FileSummary, prev *review.Snapshot) []string {
	if prev == nil || curRaw == prev.RawDiff {
		return []string{}
	}

	changed := make(map[string]struct{})

	curSections := SplitDiff(curRaw)
	prevSections := SplitDiff(prev.RawDiff)
	for p, section := range curSections {
		if prevSection, ok := prevSections[p]; !ok || prevSection != section {
			changed[p] = struct{}{}
		}
	}
	for p := range prevSections {
		if _, ok := curSections[p]; !ok {
			changed[p] = struct{}{}
		}
	}

	prevByPath := make(map[string]review.FileSummary, len(prev.Files))
	for _, f := range prev.Files {
		prevByPath[f.Path] = f
	}
	curByPath := make(map[string]review.FileSummary, len(curFiles))
	for _, f := range curFiles {
		curByPath[f.Path] = f
		old, ok := prevByPath[f.Path]
		if !ok || old.Status != f.Status || old.Additions != f.Additions || old.Deletions != f.Deletions {
			changed[f.Path] = struct{}{}
		}
	}
	for p := range prevByPath {
		if _, ok := curByPath[p]; !ok {
			changed[p] = struct{}{}
		}
	}

	out := make([]string, 0, len(changed))
	for p := range changed {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

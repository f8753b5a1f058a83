package git

import (
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/colonyops/revwatch/internal/core/review"
)

// ParseFileSummaries parses a unified git diff into per-file summaries.
// Binary files are reported with zero additions and deletions.
func ParseFileSummaries(raw string) ([]review.FileSummary, error) {
	if strings.TrimSpace(raw) == "" {
		return []review.FileSummary{}, nil
	}

	files, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}

	summaries := make([]review.FileSummary, 0, len(files))
	for _, f := range files {
		summaries = append(summaries, summarize(f))
	}
	return summaries, nil
}

func summarize(f *gitdiff.File) review.FileSummary {
	s := review.FileSummary{Path: f.NewName}

	switch {
	case f.IsNew:
		s.Status = review.StatusAdded
	case f.IsDelete:
		s.Status = review.StatusDeleted
		s.Path = f.OldName
	case f.IsRename:
		s.Status = review.StatusRenamed
		s.OldPath = f.OldName
	default:
		s.Status = review.StatusModified
	}

	for _, frag := range f.TextFragments {
		s.Additions += int(frag.LinesAdded)
		s.Deletions += int(frag.LinesDeleted)
	}
	return s
}

package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// FormatSettings bounds the rendered context block.
type FormatSettings struct {
	Style          domain.CitationStyle
	ShowProvenance bool
	SnippetChars   int
	BudgetChars    int
}

// FormatContext renders the ranked candidates into a citation-ready context
// block plus the parallel citation records. When the block would exceed the
// character budget, lowest-ranked candidates are dropped first and the drop
// count is recorded in statistics.
func FormatContext(
	candidates []domain.RetrievalCandidate,
	settings FormatSettings,
	stats *StatsCollector,
) (string, []domain.Source) {
	start := time.Now()
	defer func() { stats.Record(StageFormat, time.Since(start)) }()

	var block strings.Builder
	sources := make([]domain.Source, 0, len(candidates))

	for i, cand := range candidates {
		entry := renderEntry(cand, settings)
		if settings.BudgetChars > 0 && block.Len()+len(entry) > settings.BudgetChars {
			stats.AddDroppedByBudget(len(candidates) - i)
			break
		}
		block.WriteString(entry)
		sources = append(sources, candidateSource(cand))
	}
	return block.String(), sources
}

// citationLabel falls back to document and chunk identifiers so a corpus hit
// without citation metadata still yields a non-empty label; the validation
// gate requires one on every source record.
func citationLabel(cand domain.RetrievalCandidate) string {
	if cand.Provenance.Citation != "" {
		return cand.Provenance.Citation
	}
	if cand.DocumentID != "" {
		return cand.DocumentID
	}
	return cand.ChunkID
}

func renderEntry(cand domain.RetrievalCandidate, settings FormatSettings) string {
	label := citationLabel(cand)
	snip := snippet(cand.Text, settings.SnippetChars)

	var entry string
	switch settings.Style {
	case domain.CitationInline:
		entry = fmt.Sprintf("%s (%s, %d): %s", label, cand.Provenance.Organization, cand.Provenance.Year, snip)
	case domain.CitationFull:
		return fmt.Sprintf("[%d] %s - %s (%d)\n%s\nsource: %s | type: %s | license: %s\n\n",
			cand.Rank, label, cand.Provenance.Organization, cand.Provenance.Year, snip,
			cand.Provenance.URL, cand.Provenance.ContentType, cand.Provenance.License)
	default: // numbered
		entry = fmt.Sprintf("[%d] %s - %s (%d)\n%s", cand.Rank, label, cand.Provenance.Organization, cand.Provenance.Year, snip)
	}
	if settings.ShowProvenance && cand.Provenance.URL != "" {
		entry += "\nsource: " + cand.Provenance.URL
	}
	return entry + "\n\n"
}

func candidateSource(cand domain.RetrievalCandidate) domain.Source {
	relevance := clamp01(cand.Effective())
	return domain.Source{
		Citation:     citationLabel(cand),
		URL:          cand.Provenance.URL,
		Organization: cand.Provenance.Organization,
		Year:         cand.Provenance.Year,
		ContentType:  cand.Provenance.ContentType,
		License:      cand.Provenance.License,
		Tags:         cand.Provenance.Tags,
		Relevance:    &relevance,
	}
}

func snippet(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	trimmed := strings.TrimRight(string(runes[:maxChars]), " \t\n")
	return trimmed + "..."
}

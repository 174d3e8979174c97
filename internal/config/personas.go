package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

// personaFile is the on-disk shape of the persona registry. Decoding is
// strict: an unknown key is a startup failure, not a silent default.
type personaFile struct {
	Personas []personaEntry `yaml:"personas"`
}

type personaEntry struct {
	Name           string      `yaml:"name"`
	Namespaces     []string    `yaml:"namespaces"`
	ScoreThreshold float64     `yaml:"score_threshold"`
	MinResults     int         `yaml:"min_results"`
	MaxResults     int         `yaml:"max_results"`
	Strategy       string      `yaml:"expansion_strategy"`
	Filter         filterEntry `yaml:"filter"`
	RerankEnabled  bool        `yaml:"rerank_enabled"`
	Format         formatEntry `yaml:"format"`
	DetectSignals  []string    `yaml:"detect_signals"`
}

type filterEntry struct {
	RequiredTags []string `yaml:"required_tags"`
	ContentTypes []string `yaml:"content_types"`
	YearGTE      *int     `yaml:"year_gte"`
	YearLTE      *int     `yaml:"year_lte"`
}

type formatEntry struct {
	CitationStyle  string `yaml:"citation_style"`
	ShowProvenance bool   `yaml:"show_provenance"`
	SnippetChars   int    `yaml:"snippet_chars"`
}

func LoadPersonas(path string) ([]domain.PersonaConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open personas file: %w", err)
	}
	defer f.Close()
	return parsePersonas(f)
}

func parsePersonas(r io.Reader) ([]domain.PersonaConfig, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file personaFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode personas file: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("personas file declares no personas")
	}

	configs := make([]domain.PersonaConfig, 0, len(file.Personas))
	for _, entry := range file.Personas {
		persona, err := domain.ParsePersona(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("personas file: %w", err)
		}
		strategy, err := domain.ParseExpansionStrategy(entry.Strategy)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", entry.Name, err)
		}
		style, err := domain.ParseCitationStyle(entry.Format.CitationStyle)
		if err != nil {
			return nil, fmt.Errorf("persona %q: %w", entry.Name, err)
		}

		configs = append(configs, domain.PersonaConfig{
			Persona:        persona,
			Namespaces:     entry.Namespaces,
			ScoreThreshold: entry.ScoreThreshold,
			MinResults:     entry.MinResults,
			MaxResults:     entry.MaxResults,
			Strategy:       strategy,
			Filter: domain.MetadataFilter{
				RequiredTags: entry.Filter.RequiredTags,
				ContentTypes: entry.Filter.ContentTypes,
				YearGTE:      entry.Filter.YearGTE,
				YearLTE:      entry.Filter.YearLTE,
			},
			RerankEnabled: entry.RerankEnabled,
			Format: domain.FormatPreferences{
				CitationStyle:  style,
				ShowProvenance: entry.Format.ShowProvenance,
				SnippetChars:   entry.Format.SnippetChars,
			},
			DetectSignals: entry.DetectSignals,
		})
	}
	return configs, nil
}

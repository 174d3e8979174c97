package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
)

type expansionFile struct {
	Strategies []strategyEntry `yaml:"strategies"`
}

type strategyEntry struct {
	Name    string            `yaml:"name"`
	Entries []dictionaryEntry `yaml:"entries"`
}

type dictionaryEntry struct {
	Term  string   `yaml:"term"`
	Terms []string `yaml:"terms"`
}

func LoadDictionaries(path string) ([]usecase.Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open expansion file: %w", err)
	}
	defer f.Close()
	return parseDictionaries(f)
}

func parseDictionaries(r io.Reader) ([]usecase.Dictionary, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file expansionFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode expansion file: %w", err)
	}

	dictionaries := make([]usecase.Dictionary, 0, len(file.Strategies))
	for _, entry := range file.Strategies {
		strategy, err := domain.ParseExpansionStrategy(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("expansion file: %w", err)
		}
		if strategy == domain.StrategyNone {
			return nil, fmt.Errorf("expansion file: strategy %q takes no dictionary", entry.Name)
		}
		if len(entry.Entries) == 0 {
			return nil, fmt.Errorf("expansion file: strategy %q has no entries", entry.Name)
		}

		associations := make([]usecase.TermAssociation, 0, len(entry.Entries))
		for _, assoc := range entry.Entries {
			if assoc.Term == "" || len(assoc.Terms) == 0 {
				return nil, fmt.Errorf("expansion file: strategy %q has an incomplete entry", entry.Name)
			}
			associations = append(associations, usecase.TermAssociation{
				Term:  assoc.Term,
				Terms: assoc.Terms,
			})
		}
		dictionaries = append(dictionaries, usecase.Dictionary{
			Strategy: strategy,
			Entries:  associations,
		})
	}
	return dictionaries, nil
}

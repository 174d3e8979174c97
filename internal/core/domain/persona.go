package domain

import "fmt"

// Persona is a named user-intent profile that parameterizes retrieval behavior.
type Persona string

const (
	PersonaEducator   Persona = "educator"
	PersonaResearcher Persona = "researcher"
	PersonaJournalist Persona = "journalist"
	PersonaStudent    Persona = "student"
	PersonaGeneral    Persona = "general"
)

func ParsePersona(s string) (Persona, error) {
	switch Persona(s) {
	case PersonaEducator, PersonaResearcher, PersonaJournalist, PersonaStudent, PersonaGeneral:
		return Persona(s), nil
	}
	return "", fmt.Errorf("unknown persona %q", s)
}

// ExpansionStrategy names a term-association approach used to enrich a raw query.
type ExpansionStrategy string

const (
	StrategyTechnical  ExpansionStrategy = "technical"
	StrategyHistorical ExpansionStrategy = "historical"
	StrategyThematic   ExpansionStrategy = "thematic"
	StrategyResearch   ExpansionStrategy = "research"
	StrategyNone       ExpansionStrategy = "none"
)

func ParseExpansionStrategy(s string) (ExpansionStrategy, error) {
	switch ExpansionStrategy(s) {
	case StrategyTechnical, StrategyHistorical, StrategyThematic, StrategyResearch, StrategyNone:
		return ExpansionStrategy(s), nil
	}
	return "", fmt.Errorf("unknown expansion strategy %q", s)
}

// CitationStyle selects how the context formatter labels rendered sources.
type CitationStyle string

const (
	CitationNumbered CitationStyle = "numbered"
	CitationInline   CitationStyle = "inline"
	CitationFull     CitationStyle = "full"
)

func ParseCitationStyle(s string) (CitationStyle, error) {
	switch CitationStyle(s) {
	case CitationNumbered, CitationInline, CitationFull:
		return CitationStyle(s), nil
	}
	return "", fmt.Errorf("unknown citation style %q", s)
}

// FormatPreferences carries per-persona output formatting choices.
type FormatPreferences struct {
	CitationStyle  CitationStyle
	ShowProvenance bool
	SnippetChars   int
}

// PersonaConfig is the immutable retrieval profile for one persona.
// Loaded once at startup from the declarative registry file, never mutated.
type PersonaConfig struct {
	Persona        Persona
	Namespaces     []string
	ScoreThreshold float64
	MinResults     int
	MaxResults     int
	Strategy       ExpansionStrategy
	Filter         MetadataFilter
	RerankEnabled  bool
	Format         FormatPreferences

	// DetectSignals are case-insensitive substrings scanned by persona detection.
	DetectSignals []string
}

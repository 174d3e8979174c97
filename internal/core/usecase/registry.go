package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

const (
	defaultDetectThreshold = 0.75
	maxNamespacesPerQuery  = 20
	maxRequestedResults    = 100
)

// PersonaRegistry is the read-only persona template registry. It is built once
// at startup and shared without locking.
type PersonaRegistry struct {
	byKey           map[domain.Persona]domain.PersonaConfig
	order           []domain.Persona
	defaultPersona  domain.Persona
	detectThreshold float64
}

// NewPersonaRegistry validates every config and fails fast on the first
// structurally invalid persona.
func NewPersonaRegistry(configs []domain.PersonaConfig, defaultPersona domain.Persona, detectThreshold float64) (*PersonaRegistry, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("persona registry: no personas configured")
	}
	if detectThreshold <= 0 || detectThreshold > 1 {
		detectThreshold = defaultDetectThreshold
	}

	r := &PersonaRegistry{
		byKey:           make(map[domain.Persona]domain.PersonaConfig, len(configs)),
		defaultPersona:  defaultPersona,
		detectThreshold: detectThreshold,
	}
	for _, cfg := range configs {
		if _, dup := r.byKey[cfg.Persona]; dup {
			return nil, fmt.Errorf("persona registry: duplicate persona %q", cfg.Persona)
		}
		if violations := r.Validate(cfg); len(violations) > 0 {
			return nil, fmt.Errorf("persona registry: %q invalid: %s", cfg.Persona, strings.Join(violations, "; "))
		}
		r.byKey[cfg.Persona] = cfg
		r.order = append(r.order, cfg.Persona)
	}
	if _, ok := r.byKey[defaultPersona]; !ok {
		return nil, fmt.Errorf("persona registry: default persona %q not configured", defaultPersona)
	}
	return r, nil
}

// Get returns the config for a persona key.
func (r *PersonaRegistry) Get(key domain.Persona) (domain.PersonaConfig, error) {
	cfg, ok := r.byKey[key]
	if !ok {
		return domain.PersonaConfig{}, domain.WrapError(domain.ErrPersonaNotFound, "registry get", fmt.Errorf("persona %q", key))
	}
	return cfg, nil
}

// List returns the configured personas in declaration order.
func (r *PersonaRegistry) List() []domain.PersonaConfig {
	out := make([]domain.PersonaConfig, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// Detect scans the query against each persona's signal set and returns the
// strongest match with its confidence. Zero hits yields ("", 0).
func (r *PersonaRegistry) Detect(rawQuery string) (domain.Persona, float64) {
	query := strings.ToLower(rawQuery)

	var best domain.Persona
	var bestConfidence float64
	for _, key := range r.order {
		cfg := r.byKey[key]
		if len(cfg.DetectSignals) == 0 {
			continue
		}
		hits := 0
		for _, signal := range cfg.DetectSignals {
			if signal != "" && strings.Contains(query, strings.ToLower(signal)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := float64(hits) / float64(len(cfg.DetectSignals))
		if confidence > bestConfidence {
			best = key
			bestConfidence = confidence
		}
	}
	return best, bestConfidence
}

// Resolve picks the effective persona for a request: an explicit key wins,
// otherwise detection above the confidence threshold, otherwise the default.
func (r *PersonaRegistry) Resolve(rawQuery, requested string) (domain.PersonaConfig, error) {
	if requested != "" {
		key, err := domain.ParsePersona(requested)
		if err != nil {
			return domain.PersonaConfig{}, domain.WrapError(domain.ErrInvalidInput, "resolve persona", err)
		}
		return r.Get(key)
	}
	if detected, confidence := r.Detect(rawQuery); detected != "" && confidence >= r.detectThreshold {
		return r.Get(detected)
	}
	return r.Get(r.defaultPersona)
}

// Validate checks structural invariants and returns human-readable violations.
func (r *PersonaRegistry) Validate(cfg domain.PersonaConfig) []string {
	var violations []string

	if len(cfg.Namespaces) == 0 {
		violations = append(violations, "namespace list is empty")
	}
	if len(cfg.Namespaces) > maxNamespacesPerQuery {
		violations = append(violations, fmt.Sprintf("namespace count %d exceeds maximum %d", len(cfg.Namespaces), maxNamespacesPerQuery))
	}
	seen := make(map[string]struct{}, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		if strings.TrimSpace(ns) == "" {
			violations = append(violations, "namespace name is blank")
			continue
		}
		if _, dup := seen[ns]; dup {
			violations = append(violations, fmt.Sprintf("duplicate namespace %q", ns))
		}
		seen[ns] = struct{}{}
	}
	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		violations = append(violations, fmt.Sprintf("score threshold %v outside [0,1]", cfg.ScoreThreshold))
	}
	if cfg.MinResults < 0 {
		violations = append(violations, "min results is negative")
	}
	if cfg.MaxResults < 1 || cfg.MaxResults > maxRequestedResults {
		violations = append(violations, fmt.Sprintf("max results %d outside [1,%d]", cfg.MaxResults, maxRequestedResults))
	}
	if cfg.MinResults > cfg.MaxResults {
		violations = append(violations, fmt.Sprintf("min results %d exceeds max results %d", cfg.MinResults, cfg.MaxResults))
	}
	if cfg.Filter.YearGTE != nil && cfg.Filter.YearLTE != nil && *cfg.Filter.YearGTE > *cfg.Filter.YearLTE {
		violations = append(violations, fmt.Sprintf("year_gte %d exceeds year_lte %d", *cfg.Filter.YearGTE, *cfg.Filter.YearLTE))
	}
	if cfg.Format.SnippetChars < 1 {
		violations = append(violations, "snippet length must be positive")
	}
	if cfg.Format.CitationStyle == domain.CitationFull && !cfg.Format.ShowProvenance {
		violations = append(violations, "full citation style requires show_provenance")
	}
	return violations
}

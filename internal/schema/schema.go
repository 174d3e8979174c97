// Package schema publishes the versioned answer-contract artifact. The JSON
// document embedded here is the bit-exact shape other producers and consumers
// of answers must match, regardless of implementation language.
package schema

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"
)

// Version is the contract version every answer produced by this service carries.
const Version = "kqa.answer.v1"

// VersionPattern is the fixed pattern any accepted version tag must match.
var VersionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*\.answer\.v[0-9]+$`)

//go:embed answer.v1.json
var artifact []byte

// Artifact returns the raw published schema document.
func Artifact() []byte {
	out := make([]byte, len(artifact))
	copy(out, artifact)
	return out
}

// Load parses the embedded artifact and checks it is an internally valid
// schema document. Called once at startup so a broken artifact fails fast
// instead of drifting silently behind the hand-written validator.
func Load(ctx context.Context) (*openapi3.Schema, error) {
	var s openapi3.Schema
	if err := json.Unmarshal(artifact, &s); err != nil {
		return nil, fmt.Errorf("parse answer schema artifact: %w", err)
	}
	if err := s.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate answer schema artifact: %w", err)
	}
	return &s, nil
}

package schema

import (
	"context"
	"testing"
)

func TestLoadEmbeddedArtifact(t *testing.T) {
	s, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Type == nil || !s.Type.Is("object") {
		t.Fatalf("artifact root must be an object schema")
	}
	if s.AdditionalProperties.Has == nil || *s.AdditionalProperties.Has {
		t.Fatalf("artifact root must be a closed record")
	}
	for _, required := range []string{"version", "answer", "sources", "retrieval_summary", "unknowns"} {
		found := false
		for _, r := range s.Required {
			if r == required {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("artifact missing required field %q", required)
		}
	}
}

func TestVersionMatchesOwnPattern(t *testing.T) {
	if !VersionPattern.MatchString(Version) {
		t.Fatalf("published version %q fails its own pattern", Version)
	}
}

func TestVersionPatternRejectsForeignTags(t *testing.T) {
	for _, bad := range []string{"", "Answer.v1", "kqa.answer.v", "kqa.answer.1", "1kqa.answer.v1", "kqa.answer.v1 "} {
		if VersionPattern.MatchString(bad) {
			t.Fatalf("pattern must reject %q", bad)
		}
	}
	for _, good := range []string{"kqa.answer.v1", "kqa.answer.v12", "other-profile.answer.v2"} {
		if !VersionPattern.MatchString(good) {
			t.Fatalf("pattern must accept %q", good)
		}
	}
}

func TestArtifactReturnsCopy(t *testing.T) {
	a := Artifact()
	a[0] = 'X'
	if Artifact()[0] == 'X' {
		t.Fatalf("Artifact must not expose the embedded buffer")
	}
}

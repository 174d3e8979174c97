package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPersonaNotFound means the requested persona key is absent from the registry.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrInvalidInput marks malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmbeddingFailure means the embedding collaborator failed; fatal for the request.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrRetrievalFailure means every namespace search failed; fatal for the request.
	ErrRetrievalFailure = errors.New("retrieval failure")
	// ErrRerankFailure marks a reranking collaborator failure; recovered by skipping fusion.
	ErrRerankFailure = errors.New("rerank failure")
	// ErrGenerationFailure means the generative collaborator failed; fatal for the request.
	ErrGenerationFailure = errors.New("generation failure")
	// ErrTimeout means the overall deadline elapsed before any namespace completed.
	ErrTimeout = errors.New("request timeout")
	// ErrTemporary tags transient collaborator errors for retry classification.
	ErrTemporary = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

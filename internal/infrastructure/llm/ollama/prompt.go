package ollama

import "fmt"

func buildAnswerPrompt(question, contextBlock string) string {
	return fmt.Sprintf(`You answer questions strictly from the numbered context passages below.
Cite passages by their bracketed number. If the passages do not support an
answer, say so instead of guessing.

Context:
%s
Question: %s

Answer:`, contextBlock, question)
}

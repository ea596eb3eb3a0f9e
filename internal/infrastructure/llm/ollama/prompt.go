package ollama

import (
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// buildPrompt puts the task instruction before the document text. Image
// requests carry only the instruction.
func buildPrompt(req domain.CompletionRequest) string {
	instruction := strings.TrimSpace(req.Instruction)
	if req.HasBinary() || req.Text == "" {
		return instruction
	}
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nDocument:\n")
	b.WriteString(req.Text)
	return b.String()
}

package docchat

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"docchat/src/storage/vectorstore"
)

// NotFoundAnswer is the exact phrase the model must answer with when the
// document context does not contain the answer.
const NotFoundAnswer = "I cannot find relevant information in the document."

const GroundedAnswerPromptTmpl = `You are a document assistant. Answer based ONLY on the content provided from the document. If the answer cannot be found, say "{{.NotFound}}"

Document context:
{{.Context}}

Question:
{{.Question}}

Answer:`

// PromptData feeds GroundedAnswerPromptTmpl.
type PromptData struct {
	NotFound string
	Context  string
	Question string
}

var groundedAnswerPrompt = template.Must(template.New("grounded_answer").Parse(GroundedAnswerPromptTmpl))

// BuildPrompt renders the grounding prompt for question over contextBlock.
func BuildPrompt(contextBlock, question string) (string, error) {
	return ExecutePrompt(groundedAnswerPrompt, PromptData{
		NotFound: NotFoundAnswer,
		Context:  contextBlock,
		Question: question,
	})
}

func ExecutePrompt(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// JoinContext concatenates chunk texts in rank order, separated by a blank line.
func JoinContext(matches []vectorstore.Match) string {
	chunks := make([]string, 0, len(matches))
	for _, m := range matches {
		if chunk := m.Metadata[MetaChunk]; chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return strings.Join(chunks, "\n\n")
}

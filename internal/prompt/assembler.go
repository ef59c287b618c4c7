package prompt

import (
	"strings"

	"github.com/reverie-ai/reverie/internal/history"
	"github.com/reverie-ai/reverie/internal/semantic"
)

// Persona is the assistant identity injected into the prompt.
type Persona struct {
	Name         string
	Instructions string
}

// Build combines persona instructions, retrieved context and the recency
// window into one completion-ready prompt. Pure: no I/O, deterministic for
// identical inputs. Sections are explicitly delimited so the model does not
// confuse persona text, background facts and conversation.
func Build(persona Persona, retrieved []semantic.Document, recent []history.Entry) string {
	var b strings.Builder

	b.WriteString("ONLY generate plain sentences without a speaker prefix. DO NOT start replies with \"")
	b.WriteString(persona.Name)
	b.WriteString(":\".\n\n")

	b.WriteString("### Instructions\n")
	b.WriteString(strings.TrimSpace(persona.Instructions))
	b.WriteString("\n\n")

	b.WriteString("### Relevant details about ")
	b.WriteString(persona.Name)
	b.WriteString("'s past and this conversation\n")
	for _, doc := range retrieved {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("### Conversation\n")
	for _, e := range recent {
		b.WriteString(strings.TrimRight(e.Text, "\n"))
		b.WriteString("\n")
	}

	// Trailing cue so the completion continues as the assistant.
	b.WriteString(persona.Name)
	b.WriteString(":")

	return b.String()
}

// Package prompt turns retrieved chunks, the running conversation and a query
// into the message list sent to the chat model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/xhad/cyberrag/internal/models"
)

const (
	// Unanswerable is the exact reply the model is told to give when the
	// context does not cover the question.
	Unanswerable = "Information not available in the provided context."

	// NoContext replaces the context block when retrieval found nothing.
	NoContext = "No relevant documents found."

	UnknownSource = "Unknown Source"

	contextHeader    = "--- Relevant Context Extracted From Documents ---\n"
	snippetSeparator = "---------------------------------------------\n"
	blockSeparator   = "---------------------\n"
)

const DefaultSystemPrompt = "You are a highly specialized AI assistant providing precise, factual and concise answers " +
	"to technical questions about Cybersecurity, Pentesting and Hacking. " +
	"Use ONLY the provided context documents to formulate your answer. " +
	"Answer the user's question directly and accurately based SOLELY on the information in the 'CONTEXT DOCUMENTS' section. " +
	"Do NOT add conversational fluff, apologies, or summaries of the context itself. " +
	"Focus entirely on extracting or inferring the direct answer to the 'USER QUERY' from the 'CONTEXT DOCUMENTS'. " +
	"If the 'CONTEXT DOCUMENTS' do not contain the information to answer the 'USER QUERY', " +
	"respond with ONLY the phrase: '" + Unanswerable + "' " +
	"Do not answer from general knowledge. Do not make up information."

type AssemblerConfig struct {
	SystemPrompt string
}

type Assembler struct {
	config AssemblerConfig
}

func NewWithConfig(config AssemblerConfig) *Assembler {
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Assembler{config: config}
}

func New() *Assembler {
	return NewWithConfig(AssemblerConfig{})
}

// Build returns the system instruction, then history in order, then one user
// message carrying the context block and the query verbatim.
func (a *Assembler) Build(query string, results []models.SearchResult, history []models.Message) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: a.config.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: UserMessage(query, FormatContext(results))})
	return messages
}

// FormatContext renders results as numbered snippets labelled by source.
func FormatContext(results []models.SearchResult) string {
	if len(results) == 0 {
		return NoContext
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i, r := range results {
		source := r.Chunk.Source()
		if source == "" {
			source = UnknownSource
		}
		fmt.Fprintf(&b, "\n[Context Snippet %d from: %s]\n", i+1, source)
		b.WriteString(r.Chunk.Text)
		b.WriteString("\n")
		b.WriteString(snippetSeparator)
	}
	return b.String()
}

func UserMessage(query, contextBlock string) string {
	var b strings.Builder
	b.WriteString("CONTEXT DOCUMENTS:\n")
	b.WriteString(blockSeparator)
	b.WriteString(contextBlock)
	if !strings.HasSuffix(contextBlock, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(blockSeparator)
	b.WriteString("\n")
	fmt.Fprintf(&b, "USER QUERY: \"%s\"\n\n", query)
	b.WriteString("Based strictly on the CONTEXT DOCUMENTS provided above, what is the direct answer to the USER QUERY? Your Answer:")
	return b.String()
}

package rag

import (
	"strings"

	"github.com/hyperjump/docrag/internal/models"
)

// ContextSeparator separates chunks in the prompt context.
const ContextSeparator = "\n\n---\n\n"

const promptTemplate = `You are an assistant for question-answering tasks. Use only the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.
Question: {question}
Context: {context}
Answer:`

// BuildContext joins source texts in ranked order.
func BuildContext(sources []*models.Source) string {
	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Content
	}
	return strings.Join(texts, ContextSeparator)
}

// BuildPrompt fills the fixed instruction template.
func BuildPrompt(question, context string) string {
	r := strings.NewReplacer("{question}", question, "{context}", context)
	return r.Replace(promptTemplate)
}

package flow

import (
	"strings"

	"github.com/sheetstack/chatrelay/internal/store"
)

// Constants for context assembly. The exact separators are part of the prompt
// contract; operators tune their business facts against this format.
const (
	businessFactsPrefix = "Business facts — "
	factSeparator       = " | "
	userMessagePrefix   = "User: "
)

// AssemblePrompt builds the completion prompt from business facts and the
// inbound message. With no facts the raw message is used unchanged. With
// facts, fact names are humanized (underscores become spaces) and joined in
// the given order, which Facts.All keeps as first-creation store order,
// followed by the user message after a blank line:
//
//	Business facts — name: Acme | hours: 9to5
//
//	User: Hi
func AssemblePrompt(facts []store.Fact, message string) string {
	if len(facts) == 0 {
		return message
	}

	parts := make([]string, 0, len(facts))
	for _, fact := range facts {
		parts = append(parts, store.HumanizeFactName(fact.Name)+": "+fact.Value)
	}

	var b strings.Builder
	b.WriteString(businessFactsPrefix)
	b.WriteString(strings.Join(parts, factSeparator))
	b.WriteString("\n\n")
	b.WriteString(userMessagePrefix)
	b.WriteString(message)
	return b.String()
}

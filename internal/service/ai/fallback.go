package ai

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lexchat/internal/models"
)

const fallbackReasoning = "Generated from message content"

// FallbackTitle derives a title from keywords in message and the uploaded file names.
func FallbackTitle(message string, fileNames []string) string {
	lower := strings.ToLower(message)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	if hasDocument(fileNames) {
		switch {
		case has("contract", "agreement"):
			return "Contract Review Discussion"
		case has("employment"):
			return "Employment Document Review"
		case has("privacy"):
			return "Privacy Policy Review"
		default:
			return "Document Review Session"
		}
	}

	switch {
	case has("gdpr", "compliance"):
		return "Compliance Consultation"
	case has("startup", "formation"):
		return "Business Formation Advice"
	case has("contract"):
		return "Contract Law Discussion"
	}

	words := strings.Fields(message)
	if len(words) == 0 {
		return models.DefaultChatTitle
	}
	if len(words) > 4 {
		words = words[:4]
	}
	title := cases.Title(language.English).String(strings.Join(words, " "))
	if utf8.RuneCountInString(title) > 30 {
		title = truncateRunes(title, 27) + "..."
	}
	return title
}

func hasDocument(fileNames []string) bool {
	for _, name := range fileNames {
		lower := strings.ToLower(name)
		if strings.HasSuffix(lower, ".pdf") || strings.HasSuffix(lower, ".doc") || strings.HasSuffix(lower, ".docx") {
			return true
		}
	}
	return false
}

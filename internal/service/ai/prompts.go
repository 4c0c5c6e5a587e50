package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"lexchat/internal/models"
)

const replySystemPrompt = `You are an intelligent legal assistant for Indifly Ventures.
You provide professional legal guidance, contract review, compliance advice, and general legal information.
Always be helpful, accurate, and professional. If you're unsure about something, say so.
Never provide advice that could be construed as creating an attorney-client relationship unless explicitly authorized.`

const titleSystemPrompt = `You are a helpful assistant that creates concise, descriptive titles for legal consultation chats.

Based on the user's message and any document content provided, create a short, descriptive title (3-8 words) that captures the essence of the legal topic or question.

Guidelines:
- Keep it professional and clear
- Focus on the legal topic/issue
- Avoid generic terms like "Legal Question"
- Include document type if relevant (e.g., "Contract Review", "Employment Agreement Analysis")
- Maximum 50 characters

Examples:
- "Employment Contract Non-Compete Review"
- "GDPR Compliance Consultation"
- "Startup Formation Legal Advice"
- "Privacy Policy Draft Review"

Respond with just the title, nothing else.`

const (
	maxTitleRunes    = 50
	titleExcerptSize = 1000
)

// replyMessages builds the prompt: system, prior turns, then the current message.
func replyMessages(history []models.Message, message string) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: replySystemPrompt})
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		var role schema.RoleType
		switch m.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		default:
			continue
		}
		msgs = append(msgs, &schema.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: message})
	return msgs
}

// titleContext lays out the excerpt, file names and message for the titling model.
func titleContext(req TitleRequest) string {
	parts := make([]string, 0, 3)
	if req.FileExcerpt != "" {
		parts = append(parts, fmt.Sprintf("Document content summary: %s...", truncateRunes(req.FileExcerpt, titleExcerptSize)))
	}
	if len(req.FileNames) > 0 {
		parts = append(parts, "Files uploaded: "+strings.Join(req.FileNames, ", "))
	}
	parts = append(parts, "User's initial message: "+req.Message)
	return strings.Join(parts, "\n\n")
}

func titleMessages(req TitleRequest) []*schema.Message {
	return []*schema.Message{
		{Role: schema.System, Content: titleSystemPrompt},
		{Role: schema.User, Content: titleContext(req)},
	}
}

// cleanTitle strips whitespace and quoting and caps the title at 50 characters.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.ReplaceAll(title, `"`, "")
	title = strings.Trim(title, "'`\u2018\u2019\u201c\u201d ")
	title = strings.Join(strings.Fields(title), " ")
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = truncateRunes(title, maxTitleRunes-3) + "..."
	}
	return title
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Package extract turns uploaded documents into plain text for prompting.
//
// Extract never fails: unsupported or unreadable input yields a short
// placeholder and ok=false, which callers persist as an unprocessed file.
package extract

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Format is the extraction strategy chosen for a file.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatDOCX        Format = "docx"
	FormatText        Format = "txt"
	FormatUnsupported Format = "unsupported"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
	mimeText = "text/plain"
)

// Detect picks a format from the file extension, falling back to the declared content type.
func Detect(fileName, contentType string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF
	case ".docx", ".doc":
		return FormatDOCX
	case ".txt":
		return FormatText
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case mimePDF:
		return FormatPDF
	case mimeDOCX, mimeDOC:
		return FormatDOCX
	case mimeText:
		return FormatText
	}
	return FormatUnsupported
}

// Extract returns the sanitized text of data and whether extraction succeeded.
func Extract(data []byte, fileName, contentType string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = fmt.Sprintf("Error extracting text: %v", r), false
		}
	}()

	switch Detect(fileName, contentType) {
	case FormatPDF:
		text, ok = extractPDF(data)
	case FormatDOCX:
		text, ok = extractDOCX(data)
	case FormatText:
		text, ok = extractText(data)
	default:
		kind := strings.ToLower(filepath.Ext(fileName))
		if kind == "" {
			kind = contentType
		}
		return fmt.Sprintf("File type %s is not supported for text extraction.", kind), false
	}
	if ok {
		text = Truncate(text)
	}
	return text, ok
}

func extractText(data []byte) (string, bool) {
	text := Sanitize(string(data))
	if text == "" {
		return "No text content found in file", false
	}
	return text, true
}

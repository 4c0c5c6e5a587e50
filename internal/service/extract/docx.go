package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// xmlNode keeps element order, which struct-tag decoding of a WordprocessingML
// body would lose between paragraphs and tables.
type xmlNode struct {
	XMLName xml.Name
	Text    string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func extractDOCX(data []byte) (string, bool) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Sprintf("Error reading DOCX: %v", err), false
	}
	var part *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			part = f
			break
		}
	}
	if part == nil {
		return "Error reading DOCX: missing " + docxBodyPart, false
	}
	rc, err := part.Open()
	if err != nil {
		return fmt.Sprintf("Error reading DOCX: %v", err), false
	}
	defer rc.Close()

	units, err := docxUnits(rc)
	if err != nil {
		return fmt.Sprintf("Error reading DOCX: %v", err), false
	}
	if len(units) == 0 {
		return "No text content found in DOCX", false
	}
	return strings.Join(units, "\n\n"), true
}

// docxUnits returns sanitized paragraphs and table rows in document order.
func docxUnits(r io.Reader) ([]string, error) {
	var doc xmlNode
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	body := findChild(&doc, "body")
	if body == nil {
		return nil, nil
	}
	var units []string
	collectBlocks(body.Nodes, &units)
	return units, nil
}

func collectBlocks(nodes []xmlNode, units *[]string) {
	for i := range nodes {
		n := &nodes[i]
		switch n.XMLName.Local {
		case "p":
			if text := Sanitize(runText(n)); text != "" {
				*units = append(*units, text)
			}
		case "tbl":
			for j := range n.Nodes {
				if n.Nodes[j].XMLName.Local != "tr" {
					continue
				}
				if row := tableRow(&n.Nodes[j]); row != "" {
					*units = append(*units, row)
				}
			}
		case "sdt", "sdtContent", "customXml":
			collectBlocks(n.Nodes, units)
		}
	}
}

func tableRow(tr *xmlNode) string {
	var cells []string
	for i := range tr.Nodes {
		if tr.Nodes[i].XMLName.Local != "tc" {
			continue
		}
		if cell := Sanitize(runText(&tr.Nodes[i])); cell != "" {
			cells = append(cells, cell)
		}
	}
	return strings.Join(cells, " | ")
}

// runText concatenates visible text below n. Paragraph and line breaks become spaces.
func runText(n *xmlNode) string {
	var b strings.Builder
	var walk func(*xmlNode)
	walk = func(node *xmlNode) {
		switch node.XMLName.Local {
		case "t":
			b.WriteString(node.Text)
			return
		case "tab", "br", "cr":
			b.WriteByte(' ')
			return
		case "delText", "instrText":
			return
		}
		for i := range node.Nodes {
			walk(&node.Nodes[i])
		}
		if node.XMLName.Local == "p" {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return b.String()
}

func findChild(n *xmlNode, local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

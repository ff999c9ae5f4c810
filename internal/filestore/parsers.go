package filestore

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strings"
)

// defaultParsers returns the extension -> Parser dispatch table. "" is the
// fallback for unrecognized extensions (treat as plain text).
func defaultParsers() map[string]Parser {
	return map[string]Parser{
		"":      ParserFunc(parseText),
		".txt":  ParserFunc(parseText),
		".md":   ParserFunc(parseText),
		".html": ParserFunc(parseHTML),
		".htm":  ParserFunc(parseHTML),
		".docx": ParserFunc(parseDocx),
	}
}

func parseText(data []byte) (string, error) {
	return string(data), nil
}

var anyTagRe = regexp.MustCompile(`(?s)<[^>]+>`)
var blockTagRe = regexp.MustCompile(`(?is)</?(p|div|br|h[1-6]|li|tr)[^>]*>`)
var whitespaceRunRe = regexp.MustCompile(`[ \t]+`)
var blankRunRe = regexp.MustCompile(`\n{3,}`)

// parseHTML strips markup while preserving paragraph boundaries: block-level
// tags become newlines, everything else is dropped.
func parseHTML(data []byte) (string, error) {
	s := string(data)
	s = stripScriptsAndStyles(s)
	s = blockTagRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}

func stripScriptsAndStyles(s string) string {
	for _, tag := range []string{"script", "style"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// docxParagraph mirrors the subset of word/document.xml we read: a <w:p>
// element containing one or more <w:t> text runs.
type docxBody struct {
	XMLName xml.Name        `xml:"document"`
	Body    docxBodyElement `xml:"body"`
}

type docxBodyElement struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Style string    `xml:"pPr>pStyle>val,attr"`
	Runs  []docxRun `xml:"r"`
}

type docxRun struct {
	Text string `xml:"t"`
}

// parseDocx reads word/document.xml out of the OOXML zip container and
// joins paragraphs with a blank line, the same paragraph-per-line contract
// plain text and markdown parsers already produce.
func parseDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		docXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		break
	}
	if docXML == nil {
		return "", nil
	}
	var body docxBody
	if err := xml.Unmarshal(docXML, &body); err != nil {
		return "", err
	}
	var paras []string
	for _, p := range body.Body.Paragraphs {
		var sb strings.Builder
		for _, r := range p.Runs {
			sb.WriteString(r.Text)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		paras = append(paras, text)
	}
	return strings.Join(paras, "\n\n"), nil
}

package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespacePattern = regexp.MustCompile(`[ \t]+`)
var blankLinePattern = regexp.MustCompile(`\n{3,}`)

// Text pulls plain text from an uploaded file's contents. HTML files are
// stripped of chrome and scripts; everything else is treated as plain text.
func Text(filename string, data []byte) (string, error) {
	if isHTML(filename) {
		return fromHTML(data)
	}
	return normalize(string(data)), nil
}

func isHTML(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

func fromHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	return normalize(doc.Find("body").Text()), nil
}

func normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = whitespacePattern.ReplaceAllString(strings.TrimSpace(line), " ")
	}

	joined := strings.Join(lines, "\n")
	joined = blankLinePattern.ReplaceAllString(joined, "\n\n")

	return strings.TrimSpace(joined)
}

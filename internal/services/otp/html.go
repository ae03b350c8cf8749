package otp

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripHTML returns the visible text of an HTML fragment with entities
// decoded and whitespace collapsed. Input that fails to parse is returned
// unchanged.
func StripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()

	// Keep table cells and block elements apart so codes don't run into labels
	doc.Find("br, p, div, td, tr, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	return strings.Join(strings.Fields(doc.Text()), " ")
}

package loader

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Main content areas, most specific first. body is the fallback.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

// parseHTML returns the page title and its cleaned main text.
func parseHTML(r io.Reader) (*goquery.Document, string, string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, "", "", err
	}
	return doc, strings.TrimSpace(doc.Find("title").First().Text()), extractMainContent(doc), nil
}

func extractMainContent(doc *goquery.Document) string {
	// script and style text would otherwise leak into Text()
	doc.Find("script, style, noscript").Remove()

	var content string
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

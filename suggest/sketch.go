package suggest

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"github.com/quellhq/quell/dom"
)

var sketchConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Sketch renders the document as a markdown outline capped at maxLen runes,
// giving a remote source enough page structure to anchor suggestions without
// shipping the full DOM.
func Sketch(doc *dom.Document, maxLen int) (string, error) {
	html, err := doc.Render()
	if err != nil {
		return "", fmt.Errorf("suggest: render document: %w", err)
	}

	md, err := sketchConverter.ConvertString(string(html))
	if err != nil {
		return "", fmt.Errorf("suggest: convert sketch: %w", err)
	}

	md = strings.TrimSpace(md)
	runes := []rune(md)
	if maxLen > 0 && len(runes) > maxLen {
		md = string(runes[:maxLen])
	}
	return md, nil
}

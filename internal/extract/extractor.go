// Package extract converts validated uploads into UTF-8 text for chunking.
// Structured formats are rendered as YAML so their hierarchy survives into
// the chunks; HTML and PDF are flattened to Markdown-ish text.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	pdf "github.com/dslipak/pdf"
	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/internal/domain"
	"github.com/liliang-cn/ragstore/internal/validate"
)

type Extractor struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "extractor").Logger()}
}

// Text converts the validated payload to UTF-8 text. Whitespace-only
// output fails with domain.ErrEmptyExtraction.
func (e *Extractor) Text(result *validate.Result) (string, error) {
	var (
		text string
		err  error
	)

	switch result.Format {
	case validate.FormatPDF:
		text, err = e.fromPDF(result.Data)
	case validate.FormatHTML:
		text, err = e.fromHTML(result.Data)
	case validate.FormatJSON:
		text, err = jsonToYAML(result.Data)
	case validate.FormatXML:
		text, err = xmlToYAML(result.Data)
	case validate.FormatYAML, validate.FormatText:
		text = string(result.Data)
	default:
		return "", fmt.Errorf("%w: no extractor for format %q", domain.ErrValidation, result.Format)
	}

	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document yielded only whitespace", domain.ErrEmptyExtraction)
	}

	return text, nil
}

func (e *Extractor) fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: failed to open PDF: %v", domain.ErrValidation, err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Keep going; a single bad page should not sink the document.
			e.logger.Warn().Int("page", i).Err(err).Msg("failed to extract PDF page")
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return buf.String(), nil
}

// fromHTML strips non-content elements first, then converts to Markdown.
func (e *Extractor) fromHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse HTML: %v", domain.ErrValidation, err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	cleaned, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("%w: failed to serialise HTML: %v", domain.ErrValidation, err)
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: HTML to Markdown conversion failed: %v", domain.ErrValidation, err)
	}

	return markdown, nil
}

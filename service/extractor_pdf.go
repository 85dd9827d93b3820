package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// pageStrategy pulls text from one page. Strategies are tried in order and
// the first non-empty result wins.
type pageStrategy struct {
	name    string
	extract func(p pdf.Page) string
}

var pageStrategies = []pageStrategy{
	{"items", textFromItems},
	{"plain", textFromPlain},
	{"annotations", textFromAnnotations},
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (out *Extraction, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, wrap(ErrPasswordProtected, err)
		}
		return nil, err
	}

	total := 0
	func() {
		defer func() { _ = recover() }()
		total = reader.NumPage()
	}()
	if total <= 0 {
		return nil, wrap(ErrEmptyDocument, errors.New("pdf has no pages"))
	}

	out = &Extraction{PageCount: total}
	var b strings.Builder
	for i := 1; i <= total; i++ {
		text, strategy := pageText(reader, i)
		if text == "" {
			out.SkippedPages = append(out.SkippedPages, i)
			continue
		}
		logger.Debug(ctx, "pdf page extracted", "page", i, "strategy", strategy, "chars", len(text))
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	out.Text = b.String()

	if strings.TrimSpace(out.Text) == "" && e.ocr != nil {
		text, ocrErr := e.ocr.RecognizePages(ctx, data, out.SkippedPages)
		if ocrErr != nil {
			logger.Warn(ctx, "ocr hook failed", "error", ocrErr)
		} else {
			out.Text = text
			out.SkippedPages = nil
		}
	}
	return out, nil
}

func pageText(reader *pdf.Reader, n int) (string, string) {
	var page pdf.Page
	ok := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		page = reader.Page(n)
		return !page.V.IsNull()
	}()
	if !ok {
		return "", ""
	}

	for _, s := range pageStrategies {
		if text := safeStrategy(s.extract, page); text != "" {
			return text, s.name
		}
	}
	return "", ""
}

func safeStrategy(fn func(pdf.Page) string, p pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	return strings.TrimSpace(fn(p))
}

// textFromItems joins the positioned glyph runs of the page, inserting line
// breaks on baseline changes and spaces on horizontal gaps.
func textFromItems(p pdf.Page) string {
	items := p.Content().Text
	var b strings.Builder
	for i, t := range items {
		if i > 0 {
			prev := items[i-1]
			tolerance := math.Max(prev.FontSize*0.5, 1)
			switch {
			case math.Abs(t.Y-prev.Y) > tolerance:
				b.WriteByte('\n')
			case t.X > prev.X+prev.W+prev.FontSize*0.2:
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
	}
	return normalizePDFText(b.String())
}

// textFromPlain uses the parser's own text walkers, which also cover text
// shown through array operators rather than single strings.
func textFromPlain(p pdf.Page) string {
	if s, err := p.GetPlainText(nil); err == nil {
		if text := normalizePDFText(s); text != "" {
			return text
		}
	}

	rows, err := p.GetTextByRow()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		for _, word := range row.Content {
			b.WriteString(word.S)
		}
		b.WriteByte('\n')
	}
	return normalizePDFText(b.String())
}

// textFromAnnotations reads annotation contents and form field values.
func textFromAnnotations(p pdf.Page) string {
	annots := p.V.Key("Annots")
	var parts []string
	for i := 0; i < annots.Len(); i++ {
		a := annots.Index(i)
		for _, v := range []pdf.Value{a.Key("Contents"), a.Key("V"), a.Key("Parent").Key("V")} {
			if v.Kind() == pdf.String {
				if s := strings.TrimSpace(v.Text()); s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	return normalizePDFText(strings.Join(parts, "\n"))
}

// normalizePDFText folds compatibility characters and maps the unicode space
// variants PDFs use for layout onto plain spaces.
func normalizePDFText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n':
			return r
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		case '\u00a0', '\u1680', '\u180e', '\u202f', '\u205f', '\u3000', '\t', '\r', '\f', '\v':
			return ' '
		}
		if r >= '\u2000' && r <= '\u200a' {
			return ' '
		}
		return r
	}, s)
	return collapseWhitespace(s)
}

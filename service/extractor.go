package service

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/AnTengye/contractrisk/pkg/logger"
)

// DocumentType is a supported upload format
type DocumentType string

const (
	TypePDF  DocumentType = "pdf"
	TypeDOCX DocumentType = "docx"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	wordsPerPage = 500
)

// Extraction is the text recovered from a document
type Extraction struct {
	Type         DocumentType
	Text         string
	WordCount    int
	PageCount    int
	SkippedPages []int
}

// OCRHook recognizes text on pages that carry no text layer. No engine is
// bundled; the hook is only consulted when a PDF yields no text at all.
type OCRHook interface {
	RecognizePages(ctx context.Context, data []byte, pages []int) (string, error)
}

// TextExtractor is the contract the analyzer depends on
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeHint, fileName string) (*Extraction, error)
}

type Extractor struct {
	ocr          OCRHook
	maxDOCXBytes int64
}

type ExtractorOption func(*Extractor)

// WithOCRHook installs a recognizer for image-only PDFs.
func WithOCRHook(h OCRHook) ExtractorOption {
	return func(e *Extractor) { e.ocr = h }
}

// WithMaxDOCXBodyBytes overrides the decompressed DOCX body limit.
func WithMaxDOCXBodyBytes(n int64) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.maxDOCXBytes = n
		}
	}
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{maxDOCXBytes: DefaultMaxDOCXBodyBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetectType resolves the document type from the declared MIME type, falling
// back to the file extension for generic or missing types.
func DetectType(mimeHint, fileName string) (DocumentType, error) {
	mime := strings.ToLower(strings.TrimSpace(mimeHint))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case mime == MIMEDOCX:
		return TypeDOCX, nil
	case strings.Contains(mime, "pdf"):
		return TypePDF, nil
	case isGenericMIME(mime):
		switch strings.ToLower(filepath.Ext(fileName)) {
		case ".pdf":
			return TypePDF, nil
		case ".docx":
			return TypeDOCX, nil
		}
	}
	return "", ErrUnsupportedFormat
}

func isGenericMIME(mime string) bool {
	switch mime {
	case "", "application/octet-stream", "binary/octet-stream", "application/zip", "application/x-zip-compressed":
		return true
	}
	return false
}

func (e *Extractor) Extract(ctx context.Context, data []byte, mimeHint, fileName string) (*Extraction, error) {
	docType, err := DetectType(mimeHint, fileName)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	var out *Extraction
	switch docType {
	case TypePDF:
		out, err = e.extractPDF(ctx, data)
	case TypeDOCX:
		out, err = extractDOCX(data, e.maxDOCXBytes)
	}
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, classifyExtractionError(err)
	}

	out.Type = docType
	out.Text = collapseWhitespace(out.Text)
	out.WordCount = countWords(out.Text)
	if out.Text == "" || out.WordCount == 0 {
		return nil, ErrNoTextExtracted
	}
	if docType == TypeDOCX {
		out.PageCount = estimatePages(out.WordCount)
	}
	if out.PageCount < 1 {
		out.PageCount = 1
	}

	logger.Debug(ctx, "text extracted",
		"type", docType,
		"words", out.WordCount,
		"pages", out.PageCount,
		"skipped_pages", len(out.SkippedPages),
	)
	return out, nil
}

// estimatePages assumes a fixed number of words per page.
func estimatePages(words int) int {
	pages := int(math.Ceil(float64(words) / wordsPerPage))
	if pages < 1 {
		return 1
	}
	return pages
}

// classifyExtractionError maps parser error messages onto the extraction
// error taxonomy. Parsers do not expose typed errors, so this is best-effort.
func classifyExtractionError(err error) *AppError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password") || strings.Contains(msg, "encrypt"):
		return wrap(ErrPasswordProtected, err)
	case strings.Contains(msg, "not a pdf") || strings.Contains(msg, "not a valid zip") ||
		strings.Contains(msg, "missing %pdf") || strings.Contains(msg, "not found in archive"):
		return wrap(ErrInvalidFormat, err)
	case strings.Contains(msg, "no pages") || strings.Contains(msg, "empty"):
		return wrap(ErrEmptyDocument, err)
	default:
		return wrap(ErrCorruptedFile, err)
	}
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// collapseWhitespace squeezes runs of spaces and keeps at most one blank
// line between paragraphs.
func collapseWhitespace(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// countWords counts whitespace separated tokens carrying a letter or digit.
func countWords(s string) int {
	n := 0
	for _, field := range strings.Fields(s) {
		if strings.IndexFunc(field, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) >= 0 {
			n++
		}
	}
	return n
}

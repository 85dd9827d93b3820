package service

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const docxBodyPart = "word/document.xml"

// DefaultMaxDOCXBodyBytes caps the decompressed size of the document body.
// The upload limit only bounds the compressed archive.
const DefaultMaxDOCXBodyBytes int64 = 64 << 20

var (
	markupParagraphEnd = regexp.MustCompile(`</w:p>|<w:br\s*/>|<w:cr\s*/>`)
	markupTab          = regexp.MustCompile(`<w:tab\s*/>`)
	markupTag          = regexp.MustCompile(`<[^>]*>`)
)

func extractDOCX(data []byte, maxBody int64) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	body, err := readZipPart(zr, docxBodyPart, maxBody)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, wrap(ErrEmptyDocument, errors.New("docx body is empty"))
	}

	text, err := docxRawText(body)
	if err != nil || strings.TrimSpace(text) == "" {
		text = stripMarkup(body)
	}
	return &Extraction{Text: text}, nil
}

// readZipPart decompresses one archive member, refusing members larger than
// limit bytes whether the header declares it or the stream reveals it.
func readZipPart(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if f.UncompressedSize64 > uint64(limit) {
			return nil, wrap(ErrDocumentTooLarge, fmt.Errorf("%s declares %d bytes, limit %d", name, f.UncompressedSize64, limit))
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()

		body, err := io.ReadAll(io.LimitReader(rc, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > limit {
			return nil, wrap(ErrDocumentTooLarge, fmt.Errorf("%s exceeds %d bytes", name, limit))
		}
		return body, nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

// docxRawText walks the WordprocessingML body and keeps run text, turning
// paragraphs and breaks into newlines.
func docxRawText(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// stripMarkup recovers text from a body the XML decoder rejected.
func stripMarkup(body []byte) string {
	s := markupParagraphEnd.ReplaceAllString(string(body), "\n")
	s = markupTab.ReplaceAllString(s, " ")
	s = markupTag.ReplaceAllString(s, "")
	return html.UnescapeString(s)
}

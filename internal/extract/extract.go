// Package extract turns stored document bytes into page-numbered text.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	mimePDF      = "application/pdf"
	mimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeZIP      = "application/zip"
	mimeText     = "text/plain"
	mimeMarkdown = "text/markdown"
)

var (
	// ErrUnsupported marks content the pipeline can never process.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrCorrupt marks content that could not be parsed.
	ErrCorrupt = errors.New("corrupt document")
	// ErrNoText is returned when a document parses but holds no text.
	ErrNoText = errors.New("document contains no extractable text")
)

// IsPermanent reports whether err is a content error that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrNoText)
}

// Page is the text of one page. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Result is the extracted content of a document.
type Result struct {
	PageCount int
	Pages     []Page
}

// Extract parses data according to its mime type, falling back to the file
// extension when the type is generic.
func Extract(ctx context.Context, data []byte, mimeType, fileName string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: empty file", ErrCorrupt)
	}

	var (
		res Result
		err error
	)
	switch kind := normalizeMimeType(mimeType, fileName, data); kind {
	case mimePDF:
		res, err = extractPDF(data, 0)
	case mimeDOCX:
		res, err = extractDOCX(data)
	case mimeZIP:
		res, err = extractZIP(ctx, data)
	case mimeText, mimeMarkdown:
		res, err = extractPlain(data)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	if err != nil {
		return Result{}, err
	}
	if !hasText(res.Pages) {
		return Result{}, ErrNoText
	}
	return res, nil
}

func extractPlain(data []byte) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("%w: text is not valid utf-8", ErrCorrupt)
	}
	return Result{PageCount: 1, Pages: []Page{{Number: 1, Text: string(data)}}}, nil
}

// extractZIP reads every PDF in the archive. Page numbers continue across
// files so each page stays distinguishable in citations.
func extractZIP(ctx context.Context, data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var out Result
	found := 0
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(name), ".") {
			continue
		}
		if !strings.EqualFold(path.Ext(name), ".pdf") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		raw, err := readZipFile(f)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		part, err := extractPDF(raw, out.PageCount)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", name, err)
		}
		out.PageCount += part.PageCount
		out.Pages = append(out.Pages, part.Pages...)
		found++
	}
	if found == 0 {
		return Result{}, fmt.Errorf("%w: zip archive contains no pdf files", ErrUnsupported)
	}
	return out, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

func normalizeMimeType(mimeType string, fileName string, data []byte) string {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	ext := strings.ToLower(filepath.Ext(fileName))

	switch clean {
	case mimeZIP, "application/x-zip-compressed":
		if isDOCXArchive(data) || ext == ".docx" {
			return mimeDOCX
		}
		return mimeZIP
	case mimeText, "application/octet-stream", "":
		switch ext {
		case ".pdf":
			return mimePDF
		case ".md", ".markdown":
			return mimeMarkdown
		case ".docx":
			return mimeDOCX
		case ".zip":
			return mimeZIP
		case ".txt", ".text":
			return mimeText
		}
	}
	return clean
}

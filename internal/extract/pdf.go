package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pageCount validates the PDF structure and returns its page total.
func pageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf page count: %v", ErrCorrupt, r)
		}
	}()
	n, err = api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, nil
}

// extractPDF returns per-page text numbered from offset+1.
func extractPDF(data []byte, offset int) (res Result, err error) {
	count, err := pageCount(data)
	if err != nil {
		return Result{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf text: %v", ErrCorrupt, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	res.PageCount = count
	res.Pages = make([]Page, 0, count)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage() && i <= count; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return Result{}, fmt.Errorf("%w: page %d: %v", ErrCorrupt, i, err)
		}
		res.Pages = append(res.Pages, Page{Number: offset + i, Text: strings.TrimSpace(text)})
	}
	return res, nil
}

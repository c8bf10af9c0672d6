package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func extractDOCX(data []byte) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var docFile, appFile *zip.File
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			docFile = f
		case "docProps/app.xml":
			appFile = f
		}
	}
	if docFile == nil {
		return Result{}, fmt.Errorf("%w: document.xml not found", ErrCorrupt)
	}

	raw, err := readZipFile(docFile)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	text, err := stripDocxXML(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	pages := 1
	if appFile != nil {
		if n := declaredPages(appFile); n > 0 {
			pages = n
		}
	}
	// Word does not mark page breaks reliably, so all text is attributed to page 1.
	return Result{PageCount: pages, Pages: []Page{{Number: 1, Text: text}}}, nil
}

func stripDocxXML(raw []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// declaredPages reads the <Pages> property Word stores in docProps/app.xml.
func declaredPages(f *zip.File) int {
	raw, err := readZipFile(f)
	if err != nil {
		return 0
	}
	var props struct {
		Pages string `xml:"Pages"`
	}
	if err := xml.Unmarshal(raw, &props); err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(props.Pages))
	return n
}

func isDOCXArchive(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return true
		}
	}
	return false
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/storage"
)

// DOCXExtractor reads paragraphs from word/document.xml of an uploaded
// Office Open XML document.
type DOCXExtractor struct {
	blobLoader
}

var _ Extractor = (*DOCXExtractor)(nil)

func NewDOCXExtractor(blobs blob.Store) *DOCXExtractor {
	return &DOCXExtractor{blobLoader: blobLoader{blobs: blobs}}
}

func (e *DOCXExtractor) Kind() Kind { return KindDOCX }

func (e *DOCXExtractor) Extract(_ context.Context, raw *Raw) (*Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw.Data), int64(len(raw.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", ErrCorruptSource, err)
	}

	body, err := readZipFile(reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	var doc documentXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse document.xml: %v", ErrCorruptSource, err)
	}

	var sb strings.Builder
	for _, p := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				line.WriteString(t.Content)
			}
		}
		if strings.TrimSpace(line.String()) == "" {
			continue
		}
		sb.WriteString(line.String())
		sb.WriteString("\n\n")
	}

	meta := map[string]string{storage.MetaByteSize: strconv.Itoa(len(raw.Data))}
	if core, err := readZipFile(reader, "docProps/core.xml"); err == nil {
		var props coreXML
		if xml.Unmarshal(core, &props) == nil {
			meta[storage.MetaTitle] = strings.TrimSpace(props.Title)
		}
	}
	return result(raw, sb.String(), meta)
}

// documentXML represents the structure of word/document.xml.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// coreXML represents docProps/core.xml.
type coreXML struct {
	Title string `xml:"title"`
}

func readZipFile(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrCorruptSource, name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptSource, name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s not found", ErrCorruptSource, name)
}

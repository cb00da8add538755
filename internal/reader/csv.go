package reader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(data []byte) (*Document, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("readCSV: decode: %w", err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	doc := &Document{Kind: domain.FileKindCSV}
	var lines []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("readCSV: %w", err)
		}

		cells := make([]string, 0, len(record))
		for _, c := range record {
			cells = append(cells, strings.TrimSpace(c))
		}
		if isBlankRow(cells) {
			continue
		}
		doc.Rows = append(doc.Rows, cells)
		lines = append(lines, strings.Join(cells, CellSeparator))
	}

	if len(doc.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	doc.Text = strings.Join(lines, "\n")
	return doc, nil
}

// decodeText returns data as UTF-8. Exports from Windows banking portals are
// commonly Windows-1252; anything that is not valid UTF-8 is decoded as such.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab on the
// first line.
func sniffDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}

	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

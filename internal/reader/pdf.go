package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/dvloznov/statement-ingest/internal/domain"
)

// Layout tolerances, in multiples of the glyph font size.
const (
	rowTolerance = 0.45
	wordGap      = 0.15
	cellGap      = 1.6
)

func readPDF(data []byte, password string) (*Document, error) {
	payload, err := StripPrefix(data)
	if err != nil {
		return nil, err
	}

	r, encrypted, err := openPDF(payload, password)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Kind:      domain.FileKindPDF,
		Pages:     r.NumPage(),
		Encrypted: encrypted,
		PDF:       payload,
	}

	var pages []string
	for i := 1; i <= doc.Pages; i++ {
		lines, err := pageLines(r, i)
		if err != nil {
			return nil, fmt.Errorf("readPDF: page %d: %w", i, err)
		}
		for _, line := range lines {
			doc.Rows = append(doc.Rows, strings.Split(line, CellSeparator))
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	doc.Text = strings.TrimSpace(strings.Join(pages, "\n\n"))

	if doc.Text == "" {
		// Some generators emit text the positioned decoder cannot place;
		// the plain extractor still recovers it.
		plain, err := plainText(r)
		if err == nil {
			doc.Text = strings.TrimSpace(plain)
		}
	}

	return doc, nil
}

// openPDF opens the payload, decrypting it when needed. The second result
// reports whether the document was encrypted.
func openPDF(payload []byte, password string) (r *pdf.Reader, encrypted bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("openPDF: %w: %v", ErrUnreadableDocument, rec)
		}
	}()

	ra := bytes.NewReader(payload)
	size := int64(len(payload))

	r, err = pdf.NewReader(ra, size)
	if err == nil {
		return r, false, nil
	}
	if !errors.Is(err, pdf.ErrInvalidPassword) {
		return nil, false, fmt.Errorf("openPDF: %w: %w", ErrUnreadableDocument, err)
	}

	if password == "" {
		return nil, true, ErrPasswordRequired
	}

	tried := false
	r, err = pdf.NewReaderEncrypted(ra, size, func() string {
		if tried {
			return ""
		}
		tried = true
		return password
	})
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, true, ErrInvalidPassword
		}
		return nil, true, fmt.Errorf("openPDF: decrypt: %w: %w", ErrUnreadableDocument, err)
	}
	return r, true, nil
}

func pageLines(r *pdf.Reader, num int) (lines []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: malformed page content: %v", ErrUnreadableDocument, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return nil, nil
	}
	return layoutRows(p.Content().Text), nil
}

func plainText(r *pdf.Reader) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed document text: %v", rec)
		}
	}()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// layoutRows groups positioned glyphs into visual rows (top to bottom) and
// splits each row into cells wherever the horizontal gap is wider than a
// column gutter.
func layoutRows(texts []pdf.Text) []string {
	glyphs := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		glyphs = append(glyphs, t)
	}
	if len(glyphs) == 0 {
		return nil
	}

	sort.SliceStable(glyphs, func(i, j int) bool {
		if glyphs[i].Y != glyphs[j].Y {
			return glyphs[i].Y > glyphs[j].Y
		}
		return glyphs[i].X < glyphs[j].X
	})

	var rows [][]pdf.Text
	var current []pdf.Text
	var rowY float64
	for _, g := range glyphs {
		if len(current) > 0 && math.Abs(g.Y-rowY) > rowTolerance*fontSize(g) {
			rows = append(rows, current)
			current = nil
		}
		if len(current) == 0 {
			rowY = g.Y
		}
		current = append(current, g)
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}

	var lines []string
	for _, row := range rows {
		if line := joinCells(row); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func joinCells(row []pdf.Text) string {
	sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

	var cells []string
	var cell strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cell.String()), " "); s != "" {
			cells = append(cells, s)
		}
		cell.Reset()
	}

	for i, g := range row {
		if i > 0 {
			prev := row[i-1]
			gap := g.X - (prev.X + prev.W)
			size := fontSize(g)
			switch {
			case gap > cellGap*size:
				flush()
			case gap > wordGap*size:
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(g.S)
	}
	flush()

	return strings.Join(cells, CellSeparator)
}

func fontSize(t pdf.Text) float64 {
	if t.FontSize <= 0 {
		return 10
	}
	return t.FontSize
}

// Package reader decodes uploaded statement files into text that keeps the
// tabular layout of the source, or into CSV rows.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-ingest/internal/domain"
)

// CellSeparator joins the cells of one table row in Document.Text.
const CellSeparator = " | "

var (
	// ErrPasswordRequired is returned for an encrypted PDF opened without a password.
	ErrPasswordRequired = errors.New("document is password protected")
	// ErrInvalidPassword is returned when the supplied password does not decrypt the PDF.
	ErrInvalidPassword = errors.New("invalid document password")
	// ErrUnsupportedKind is returned for files that are neither PDF nor CSV.
	ErrUnsupportedKind = errors.New("unsupported file kind")
	// ErrEmptyFile is returned for zero-length input.
	ErrEmptyFile = errors.New("empty file")
	// ErrUnreadableDocument is returned for a PDF whose structure cannot be parsed.
	ErrUnreadableDocument = errors.New("unreadable document")
)

// Document is the decoded form of an uploaded statement.
type Document struct {
	Kind domain.FileKind

	// Text holds one line per table row, cells joined by CellSeparator.
	Text string

	// Rows is the cell grid. For PDFs it mirrors Text.
	Rows [][]string

	// Pages is the page count of a PDF; zero for CSV.
	Pages int

	// Encrypted reports whether the PDF needed decryption.
	Encrypted bool

	// PDF is the signature-aligned PDF payload (prefix stripped). Nil for CSV.
	PDF []byte
}

// Lines returns the non-empty lines of the document text.
func (d *Document) Lines() []string {
	var out []string
	for _, line := range strings.Split(d.Text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Read decodes data as the given kind. password may be empty.
func Read(data []byte, kind domain.FileKind, password string) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	switch kind {
	case domain.FileKindPDF:
		return readPDF(data, password)
	case domain.FileKindCSV:
		return readCSV(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// DetectKind infers the file kind from the filename extension, falling back
// to content sniffing.
func DetectKind(filename string, data []byte) (domain.FileKind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.FileKindPDF, nil
	case ".csv", ".txt":
		return domain.FileKindCSV, nil
	}

	head := data
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	if bytes.Contains(head, pdfSignature) {
		return domain.FileKindPDF, nil
	}
	if len(head) > 0 && looksLikeCSV(head) {
		return domain.FileKindCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, filename)
}

// IsInputError reports whether err is caused by the uploaded file itself
// and must not be retried.
func IsInputError(err error) bool {
	return errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrInvalidPassword) ||
		errors.Is(err, ErrUnsupportedKind) ||
		errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrUnreadableDocument) ||
		errors.Is(err, ErrNoSignature)
}

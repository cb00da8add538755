package reader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dslipak/pdf"
	"github.com/dvloznov/statement-ingest/internal/domain"
)

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain pdf", "%PDF-1.7\nbody", "%PDF-1.7\nbody", nil},
		{"bop wrapper", "$BOP$garbage\r\n%PDF-1.4\nbody$EOP$", "%PDF-1.4\nbody$EOP$", nil},
		{"no signature", "hello world", "", ErrNoSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StripPrefix([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("StripPrefix() error = %v, want %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("StripPrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     string
		want     domain.FileKind
		wantErr  bool
	}{
		{"pdf extension", "estado.PDF", "", domain.FileKindPDF, false},
		{"csv extension", "movimientos.csv", "", domain.FileKindCSV, false},
		{"sniffed pdf", "download", "$BOP$%PDF-1.4", domain.FileKindPDF, false},
		{"sniffed csv", "export", "fecha;descripcion;monto\n", domain.FileKindCSV, false},
		{"binary", "blob", "\x00\x01\x02", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectKind(tt.filename, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectKind() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DetectKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRead_Errors(t *testing.T) {
	if _, err := Read(nil, domain.FileKindPDF, ""); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Read(empty) error = %v, want ErrEmptyFile", err)
	}
	if _, err := Read([]byte("x"), "docx", ""); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Read(docx) error = %v, want ErrUnsupportedKind", err)
	}
	if _, err := Read([]byte("not a pdf"), domain.FileKindPDF, ""); !errors.Is(err, ErrNoSignature) {
		t.Errorf("Read(no signature) error = %v, want ErrNoSignature", err)
	}
	if !IsInputError(ErrPasswordRequired) || !IsInputError(ErrInvalidPassword) {
		t.Error("password errors must be input errors")
	}
}

func TestRead_UnreadablePDF(t *testing.T) {
	inputs := map[string]string{
		"truncated":     "%PDF-1.4\n1 0 obj\n<< /Type /Catalog",
		"bad startxref": "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n" + strings.Repeat(" ", 100) + "\nstartxref\nnowhere\n%%EOF\n",
		"bad header":    "$BOP$%PDF-1.x\n" + strings.Repeat("x", 120) + "\n%%EOF\n",
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Read([]byte(data), domain.FileKindPDF, "")
			if !errors.Is(err, ErrUnreadableDocument) {
				t.Fatalf("Read() error = %v, want ErrUnreadableDocument", err)
			}
			if !IsInputError(err) {
				t.Errorf("IsInputError(%v) = false, want true", err)
			}
		})
	}
}

func TestRead_EncryptedPDF(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "encrypted_rc4.pdf"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Read(data, domain.FileKindPDF, ""); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("Read(no password) error = %v, want ErrPasswordRequired", err)
	}
	if _, err := Read(data, domain.FileKindPDF, "not-it"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Read(wrong password) error = %v, want ErrInvalidPassword", err)
	}

	doc, err := Read(data, domain.FileKindPDF, "secret")
	if err != nil {
		t.Fatalf("Read(secret) error = %v", err)
	}
	if !doc.Encrypted {
		t.Error("Encrypted = false, want true")
	}
	if doc.Pages != 1 {
		t.Errorf("Pages = %d, want 1", doc.Pages)
	}
	want := []string{
		"12May | DLC*RAPPI PERU | 17.50",
		"13May | PLAZA VEA SURCO | 120.00",
	}
	got := doc.Lines()
	if len(got) != len(want) {
		t.Fatalf("Lines() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReadCSV(t *testing.T) {
	data := "Fecha;Descripcion;Monto\n12/05/2024;DLC*RAPPI PERU;17,50\n\n13/05/2024;\"PLAZA VEA; SURCO\";120,00\n"

	doc, err := Read([]byte(data), domain.FileKindCSV, "")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(doc.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(doc.Rows))
	}
	if doc.Rows[2][1] != "PLAZA VEA; SURCO" {
		t.Errorf("quoted cell = %q", doc.Rows[2][1])
	}
	wantLine := "12/05/2024 | DLC*RAPPI PERU | 17,50"
	if lines := doc.Lines(); lines[1] != wantLine {
		t.Errorf("line = %q, want %q", lines[1], wantLine)
	}
}

func TestReadCSV_Windows1252(t *testing.T) {
	// "CAFÉ" with É encoded as 0xC9.
	data := []byte("fecha,descripcion,monto\n2024-05-12,CAF\xC9 TOSTADO,9.90\n")

	doc, err := Read(data, domain.FileKindCSV, "")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := doc.Rows[1][1]; got != "CAFÉ TOSTADO" {
		t.Errorf("decoded cell = %q, want %q", got, "CAFÉ TOSTADO")
	}
}

func TestLayoutRows(t *testing.T) {
	glyphs := func(x, y float64, s string) []pdf.Text {
		var out []pdf.Text
		for _, r := range s {
			out = append(out, pdf.Text{FontSize: 10, X: x, Y: y, W: 5, S: string(r)})
			x += 5
		}
		return out
	}

	var texts []pdf.Text
	// Second row first to check vertical ordering.
	texts = append(texts, glyphs(10, 680, "13May")...)
	texts = append(texts, glyphs(100, 680, "PLAZA")...)
	texts = append(texts, glyphs(10, 700, "12May")...)
	texts = append(texts, glyphs(100, 700.5, "RAPPI")...)
	// Normal word space: 4pt gap.
	texts = append(texts, glyphs(129, 700, "PERU")...)
	texts = append(texts, glyphs(300, 700, "17.50")...)

	lines := layoutRows(texts)
	want := []string{
		"12May | RAPPI PERU | 17.50",
		"13May | PLAZA",
	}
	if len(lines) != len(want) {
		t.Fatalf("layoutRows() = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

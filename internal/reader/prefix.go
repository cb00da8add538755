package reader

import (
	"bytes"
	"errors"
)

// sniffWindow is how far into the file a PDF signature is looked for when
// guessing the kind.
const sniffWindow = 1024

var pdfSignature = []byte("%PDF-")

// ErrNoSignature is returned when a file declared as PDF has no %PDF- header.
var ErrNoSignature = errors.New("no PDF signature found")

// StripPrefix drops any bytes preceding the %PDF- signature. Some banks wrap
// the document in a non-standard container (for example $BOP$ ... $EOP$
// markers) that PDF parsers reject.
func StripPrefix(data []byte) ([]byte, error) {
	idx := bytes.Index(data, pdfSignature)
	if idx < 0 {
		return nil, ErrNoSignature
	}
	return data[idx:], nil
}

func looksLikeCSV(head []byte) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	return bytes.ContainsAny(line, ",;\t")
}

package storage

import (
	"context"
	"errors"
	"testing"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{uri: "gs://bucket/path/to/file.pdf", bucket: "bucket", object: "path/to/file.pdf"},
		{uri: "gs://bucket/file.pdf", bucket: "bucket", object: "file.pdf"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs:///file.pdf", wantErr: true},
		{uri: "s3://bucket/file.pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Errorf("expected ErrInvalidPath, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || object != tt.object {
				t.Errorf("got %q %q, want %q %q", bucket, object, tt.bucket, tt.object)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/folder/file.pdf": "file.pdf",
		"gs://bucket/file.pdf":        "file.pdf",
		"uploads/u1/estado.pdf":       "estado.pdf",
		"estado.csv":                  "estado.csv",
	}
	for in, want := range tests {
		if got := Filename(in); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocal_PutGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	if err := store.Put(ctx, "u1/2024/statement.pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, "u1/2024/statement.pdf")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := store.Get(ctx, "u1/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocal_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	for _, p := range []string{"../outside.pdf", "a/../../outside.pdf", "", "gs://bucket/file.pdf"} {
		if err := store.Put(ctx, p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q): expected ErrInvalidPath, got %v", p, err)
		}
		if _, err := store.Get(ctx, p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Get(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

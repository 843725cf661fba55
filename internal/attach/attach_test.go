package attach

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestSaveAndOpen(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	stored, err := s.Save("spec.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(stored, "-spec.pdf") {
		t.Errorf("stored name = %q", stored)
	}

	rc, err := s.Open(stored)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "pdf bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestOpen_NotFound(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	if _, err := s.Open("123-missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_RejectsTraversal(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for _, name := range []string{"../secret", "a/b.txt", "..", "."} {
		if _, err := s.Open(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) err = %v, want ErrNotFound", name, err)
		}
	}
}

func TestSave_SanitizesFilename(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	stored, err := s.Save("../../etc/pass wd?.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.ContainsAny(stored, "/\\? ") {
		t.Errorf("stored name not sanitized: %q", stored)
	}

	if _, err := s.Open(stored); err != nil {
		t.Errorf("open sanitized: %v", err)
	}
}

func TestSave_EmptyFilename(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	stored, err := s.Save("???", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(stored, "-attachment") {
		t.Errorf("stored name = %q", stored)
	}
}

package api

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hirakuhq/hiraku/internal/log"
)

func TestSaveFileRejectsBadNames(t *testing.T) {
	h := NewUploadHandler(nil, t.TempDir(), 1<<20, log.NewNop())
	owner := uuid.New()

	for _, name := range []string{"", ".", "..", "dir/"} {
		if _, err := h.saveFile(owner, name, strings.NewReader("x")); !errors.Is(err, errInvalidFilename) {
			t.Errorf("saveFile(%q) error = %v, want errInvalidFilename", name, err)
		}
	}
}

func TestSaveFileStripsTraversal(t *testing.T) {
	dir := t.TempDir()
	h := NewUploadHandler(nil, dir, 1<<20, log.NewNop())
	owner := uuid.New()

	path, err := h.saveFile(owner, "../../etc/passwd", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("saveFile: %v", err)
	}

	want := filepath.Join(dir, owner.String(), "passwd")
	if path != want {
		t.Errorf("path = %q, want %q (inside the owner directory)", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("saved content = %q", data)
	}
}

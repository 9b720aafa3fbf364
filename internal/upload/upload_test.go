package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func multipartFiles(t *testing.T, files map[string]string) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile(%q) error = %v", name, err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write part %q error = %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer error = %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/", &body)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		t.Fatalf("ParseMultipartForm() error = %v", err)
	}
	return req.MultipartForm.File["files"]
}

func TestStageAcceptsValidAndRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(5, 1)

	headers := multipartFiles(t, map[string]string{
		"notes.txt":  "some notes",
		"readme.md":  "# readme",
		"binary.exe": "MZ",
	})

	staged, rejections := s.Stage(headers, dir)
	if len(staged) != 2 {
		t.Fatalf("staged = %d, want 2 (%v)", len(staged), rejections)
	}
	if len(rejections) != 1 || !strings.Contains(rejections[0], "File type not allowed") {
		t.Fatalf("rejections = %v, want one file-type rejection", rejections)
	}
	for _, f := range staged {
		if filepath.Dir(f.Path) != dir {
			t.Fatalf("staged path %q outside dir %q", f.Path, dir)
		}
		if _, err := os.Stat(f.Path); err != nil {
			t.Fatalf("staged file missing: %v", err)
		}
	}
}

func TestStageEnforcesFileCount(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(2, 1)

	headers := multipartFiles(t, map[string]string{
		"a.txt": "a", "b.txt": "b", "c.txt": "c",
	})

	staged, rejections := s.Stage(headers, dir)
	if len(staged) != 2 {
		t.Fatalf("staged = %d, want 2", len(staged))
	}
	found := false
	for _, r := range rejections {
		if strings.Contains(r, "maximum number of files") {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejections = %v, want a max-files rejection", rejections)
	}
}

func TestStageEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(5, 1)

	headers := multipartFiles(t, map[string]string{
		"big.txt": strings.Repeat("x", 2*1024*1024),
	})

	staged, rejections := s.Stage(headers, dir)
	if len(staged) != 0 {
		t.Fatalf("staged = %d, want 0", len(staged))
	}
	if len(rejections) != 1 || !strings.Contains(rejections[0], "size limit") {
		t.Fatalf("rejections = %v, want a size-limit rejection", rejections)
	}
}

func TestStageNothingValid(t *testing.T) {
	dir := t.TempDir()
	s := NewStager(5, 1)

	staged, rejections := s.Stage(nil, dir)
	if len(staged) != 0 {
		t.Fatalf("staged = %d, want 0", len(staged))
	}
	if len(rejections) != 1 {
		t.Fatalf("rejections = %v, want the no-valid-files message", rejections)
	}
}

func TestReadContentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := ReadContent(path)
	if err != nil {
		t.Fatalf("ReadContent() error = %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadContent() = %q, want %q", got, "hello")
	}

	if _, err := ReadContent(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatalf("ReadContent(missing) error = nil, want error")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"notes.txt", "notes.txt"},
		{"../../etc/passwd", "passwd"},
		{"my file (1).md", "my_file__1_.md"},
		{"....", "upload"},
	}
	for _, tc := range cases {
		if got := sanitizeName(tc.in); got != tc.want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

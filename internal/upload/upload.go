package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultMaxFiles      = 5
	DefaultMaxFileSizeMB = 1
)

var allowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// StagedFile describes one uploaded file validated and written to temporary
// storage. Only staged files ever reach the executor.
type StagedFile struct {
	OriginalName string
	Path         string
	Size         int64
}

// Stager validates uploads and writes the valid ones to a per-task temp dir.
type Stager struct {
	maxFiles    int
	maxFileSize int64
}

func NewStager(maxFiles, maxFileSizeMB int) *Stager {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = DefaultMaxFileSizeMB
	}
	return &Stager{
		maxFiles:    maxFiles,
		maxFileSize: int64(maxFileSizeMB) * 1024 * 1024,
	}
}

func (s *Stager) MaxFiles() int { return s.maxFiles }

func (s *Stager) MaxFileSizeMB() int { return int(s.maxFileSize / (1024 * 1024)) }

// Stage checks each upload against the count, extension, and size limits and
// copies the survivors into dir. It returns the staged files plus one
// rejection reason per file that did not make it. Rejections are not errors:
// the caller decides whether zero staged files is fatal.
func (s *Stager) Stage(files []*multipart.FileHeader, dir string) ([]StagedFile, []string) {
	var (
		staged     []StagedFile
		rejections []string
	)

	for _, fh := range files {
		if fh == nil || strings.TrimSpace(fh.Filename) == "" {
			continue
		}
		if len(staged) >= s.maxFiles {
			rejections = append(rejections, fmt.Sprintf(
				"Exceeded maximum number of files (%d). %q and subsequent files ignored.", s.maxFiles, fh.Filename))
			break
		}

		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !allowedExtensions[ext] {
			rejections = append(rejections, fmt.Sprintf(
				"File type not allowed for %q. Allowed: .txt, .md", fh.Filename))
			continue
		}
		if fh.Size > s.maxFileSize {
			rejections = append(rejections, fmt.Sprintf(
				"File %q exceeds size limit (%dMB).", fh.Filename, s.maxFileSize/(1024*1024)))
			continue
		}

		path, size, err := saveOne(fh, dir)
		if err != nil {
			rejections = append(rejections, fmt.Sprintf("Could not save file %q.", fh.Filename))
			continue
		}
		staged = append(staged, StagedFile{
			OriginalName: fh.Filename,
			Path:         path,
			Size:         size,
		})
	}

	if len(staged) == 0 && len(rejections) == 0 {
		rejections = append(rejections, "No valid files were uploaded.")
	}
	return staged, rejections
}

func saveOne(fh *multipart.FileHeader, dir string) (string, int64, error) {
	src, err := fh.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	path := filepath.Join(dir, uuid.NewString()+"_"+sanitizeName(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

// ReadContent reads a staged file back for processing. A missing or
// unreadable file is reported to the caller, who records a diagnostic and
// moves on.
func ReadContent(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read staged file: %w", err)
	}
	return string(data), nil
}

// sanitizeName keeps only characters that are safe in a filename. Uploaded
// names are untrusted and may carry path separators.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		out = "upload"
	}
	return out
}

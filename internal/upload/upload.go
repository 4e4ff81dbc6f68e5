// Package upload stores chat attachments on local disk. The chat layer
// only ever sees the returned URL and original file name.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// sniffLen matches the amount of data mimetype inspects by default.
const sniffLen = 3072

var (
	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("empty file")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")
)

// File describes a stored upload.
type File struct {
	URL          string `json:"fileUrl"`
	OriginalName string `json:"originalName"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Store writes uploads into a directory served under URLPrefix.
type Store struct {
	dir       string
	urlPrefix string
	maxBytes  int64
}

// New creates the upload directory if needed.
func New(dir, urlPrefix string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/"), maxBytes: maxBytes}, nil
}

// Dir returns the directory uploads are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r to a new uniquely named file and returns its reference.
func (s *Store) Save(r io.Reader, originalName string) (*File, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	head = head[:n]

	display := cleanName(originalName)
	stored := uuid.NewString() + "-" + display
	dst := filepath.Join(s.dir, stored)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if s.maxBytes > 0 {
		body = io.LimitReader(body, s.maxBytes+1)
	}
	size, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(dst)
		return nil, fmt.Errorf("write upload: %w", copyErr)
	case closeErr != nil:
		_ = os.Remove(dst)
		return nil, fmt.Errorf("close upload: %w", closeErr)
	case s.maxBytes > 0 && size > s.maxBytes:
		_ = os.Remove(dst)
		return nil, ErrTooLarge
	}

	return &File{
		URL:          s.urlPrefix + "/" + stored,
		OriginalName: display,
		ContentType:  mimetype.Detect(head).String(),
		Size:         size,
	}, nil
}

// cleanName strips directories and characters that are awkward in URLs.
func cleanName(name string) string {
	// Windows clients may send full paths with backslashes.
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '?' || r == '#' || r == '%':
			return '_'
		case r == ' ':
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

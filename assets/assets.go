/*
Package assets stores uploaded book covers and manuscripts on local disk.

PURPOSE:
  Uploads are sniffed from their first bytes rather than trusted by file
  extension or client content type, capped at a configured size, and
  stored under a random name. The returned URL is what books persist as
  CoverURL / ContentURL; Handler serves the files back.

LAYOUT:
  <dir>/covers/<uuid>.<ext>
  <dir>/content/<uuid>.<ext>

SEE ALSO:
  - api/book_handlers.go: Multipart upload
*/
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Kind selects the accepted content types and the storage subdirectory.
type Kind string

const (
	KindCover   Kind = "covers"
	KindContent Kind = "content"
)

// sniffLen is how many leading bytes mimetype inspects by default.
const sniffLen = 3072

var (
	ErrTooLarge        = errors.New("assets: file exceeds size limit")
	ErrUnsupportedType = errors.New("assets: unsupported file type")
	ErrEmpty           = errors.New("assets: empty file")
)

var contentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Accepts reports whether a detected MIME type is allowed for kind.
func (k Kind) Accepts(mt *mimetype.MIME) bool {
	switch k {
	case KindCover:
		return strings.HasPrefix(mt.String(), "image/")
	case KindContent:
		return mt.Is(contentTypes[0]) || mt.Is(contentTypes[1]) || mt.Is(contentTypes[2])
	}
	return false
}

// LocalStore keeps files under dir and addresses them below baseURL.
type LocalStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalStore creates the directory layout if missing.
func NewLocalStore(dir, baseURL string, maxBytes int64) (*LocalStore, error) {
	for _, k := range []Kind{KindCover, KindContent} {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("assets: create %s: %w", k, err)
		}
	}
	return &LocalStore{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Save stores r as kind and returns its public URL.
func (s *LocalStore) Save(kind Kind, r io.Reader) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("assets: read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", ErrEmpty
	}
	if int64(n) > s.maxBytes {
		return "", ErrTooLarge
	}

	mt := mimetype.Detect(head)
	if !kind.Accepts(mt) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	name := uuid.NewString() + mt.Extension()
	full := filepath.Join(s.dir, string(kind), name)
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("assets: create file: %w", err)
	}

	written, err := io.Copy(f, io.MultiReader(
		bytes.NewReader(head),
		io.LimitReader(r, s.maxBytes-int64(n)+1),
	))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(full)
		return "", fmt.Errorf("assets: write file: %w", err)
	case closeErr != nil:
		os.Remove(full)
		return "", fmt.Errorf("assets: close file: %w", closeErr)
	case written > s.maxBytes:
		os.Remove(full)
		return "", ErrTooLarge
	}

	return s.baseURL + "/" + path.Join(string(kind), name), nil
}

// Delete removes a file previously returned by Save. URLs outside this
// store are ignored.
func (s *LocalStore) Delete(url string) error {
	rel, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || url == "" {
		return nil
	}
	clean := path.Clean("/" + rel)
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("assets: delete: %w", err)
	}
	return nil
}

// Handler serves stored files. Mount it with the URL prefix stripped.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}

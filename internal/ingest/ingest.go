// Package ingest turns uploaded bytes into a parsed dataset.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/siteinventory/spdash/internal/csvparse"
	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
)

// DefaultMaxUpload caps uploads when the caller has no configured limit.
const DefaultMaxUpload int64 = 50 << 20 // 50 MiB

var (
	ErrUndecodable = errors.New("file is not readable as text")
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrNameEmpty   = errors.New("dataset name must not be empty")
)

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw file bytes to text. UTF-8 is assumed unless a UTF-16
// byte order mark says otherwise; any BOM is stripped. Bytes that are not
// valid in the detected encoding yield ErrUndecodable.
func Decode(b []byte) (string, error) {
	utf16 := bytes.HasPrefix(b, bomUTF16LE) || bytes.HasPrefix(b, bomUTF16BE)
	if !utf16 && !utf8.Valid(b) {
		return "", ErrUndecodable
	}
	if utf16 && len(b)%2 != 0 {
		return "", ErrUndecodable
	}

	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if bytes.IndexByte(out, 0) >= 0 {
		return "", ErrUndecodable
	}
	return string(out), nil
}

// ReadUpload reads at most limit bytes from r and returns them with their
// hex SHA-256. A non-positive limit selects DefaultMaxUpload.
func ReadUpload(r io.Reader, limit int64) ([]byte, string, error) {
	if limit <= 0 {
		limit = DefaultMaxUpload
	}
	hasher := sha256.New()
	var buf bytes.Buffer
	written, err := io.Copy(&buf, io.TeeReader(io.LimitReader(r, limit+1), hasher))
	if err != nil {
		return nil, "", fmt.Errorf("reading upload: %w", err)
	}
	if written > limit {
		return nil, "", ErrTooLarge
	}
	return buf.Bytes(), hex.EncodeToString(hasher.Sum(nil)), nil
}

// Load decodes and parses b into a new dataset. Each call produces a fresh
// dataset; loading never merges with anything previously loaded.
func Load(name string, b []byte) (*model.Dataset, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	text, err := Decode(b)
	if err != nil {
		return nil, err
	}
	headers, rows := csvparse.Parse(text)
	sum := sha256.Sum256(b)
	return &model.Dataset{
		ID:       uuid.New().String(),
		Name:     name,
		SHA256:   hex.EncodeToString(sum[:]),
		Headers:  headers,
		Rows:     rows,
		Roles:    inventory.InferRoles(headers),
		LoadedAt: time.Now().UTC(),
	}, nil
}

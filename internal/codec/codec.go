// Package codec reads and writes archive pages, schema snapshots and page indexes.
package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

// ErrVerifyMismatch is returned when a written file does not decode back to the data written.
var ErrVerifyMismatch = errors.New("verification mismatch")

// Encode serializes v in format f.
func Encode(f Format, v models.Value) ([]byte, error) {
	if f.Base == "json" {
		return EncodeJSON(v)
	}
	return encodeBinary(f, v)
}

// Decode parses data written in format f.
func Decode(f Format, data []byte) (models.Value, error) {
	if f.Base == "json" {
		return DecodeJSON(data)
	}
	return decodeBinary(f, data)
}

// EncodePage serializes a page: a map of record id (as a string) to record.
func EncodePage(f Format, page *models.Map) ([]byte, error) {
	return Encode(f, models.MapValue(page))
}

// DecodePage parses a page file's content.
func DecodePage(f Format, data []byte) (*models.Map, error) {
	v, err := Decode(f, data)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return models.NewMap(), nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("page is a %s, expected a map", v.Kind())
	}
	return m, nil
}

// WriteFile encodes v and atomically replaces path with the result.
func WriteFile(path string, f Format, v models.Value) error {
	data, err := Encode(f, v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return writeAtomic(path, data)
}

// ReadFile reads and decodes path, choosing the format from its extension.
func ReadFile(path string) (models.Value, error) {
	f, err := FormatForExt(filepath.Ext(path))
	if err != nil {
		return models.Null(), err
	}
	return ReadFileAs(path, f)
}

// ReadFileAs reads and decodes path in format f.
func ReadFileAs(path string, f Format) (models.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Null(), fmt.Errorf("reading %s: %w", path, err)
	}
	v, err := Decode(f, data)
	if err != nil {
		return models.Null(), fmt.Errorf("decoding %s: %w", path, err)
	}
	return v, nil
}

// ReadMap reads a file whose top-level value is an object, such as a schema or page index.
func ReadMap(path string) (*models.Map, error) {
	v, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, fmt.Errorf("%s: expected an object, got %s", path, v.Kind())
	}
	return m, nil
}

// Verify reloads path and compares it to want. A difference returns ErrVerifyMismatch
// with a diff of the two values.
func Verify(path string, f Format, want models.Value) error {
	got, err := ReadFileAs(path, f)
	if err != nil {
		return err
	}
	if want.Equal(got) {
		return nil
	}
	diff := cmp.Diff(want.ToAny(), got.ToAny())
	return fmt.Errorf("%w: %s (-written +reloaded):\n%s", ErrVerifyMismatch, path, diff)
}

// writeAtomic writes data to a temporary sibling and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}

// IsTempFile reports whether name is a temporary file left by an interrupted write.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// WriteIDSet atomically writes ids as a pickled set.
func WriteIDSet(path string, ids []int64) error {
	return writeAtomic(path, EncodeIDSet(ids))
}

// ReadIDSet reads a pickled id set. A missing file yields an empty set.
func ReadIDSet(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	ids, err := DecodeIDSet(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return ids, nil
}

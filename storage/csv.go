package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"
)

// readCSV decodes the file at path into a slice of T using the csv struct tags.
func readCSV[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, &PersistenceError{Op: "read", Path: path, Err: err}
	}

	var rows []T
	if len(bytes.TrimSpace(data)) == 0 {
		return rows, nil
	}
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: path, Err: err}
	}
	return rows, nil
}

// encodeCSV writes rows with a header line. An empty slice still produces
// the header so downstream readers see the documented column set.
func encodeCSV[T any](w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	enc.Register(formatFloat)

	if len(rows) == 0 {
		var zero T
		if err := enc.EncodeHeader(zero); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	} else if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// formatFloat avoids exponent notation for prices like 1234500.
func formatFloat(f float64) ([]byte, error) {
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

// WriteFileAtomic writes through a temporary file in the target directory
// and renames it over path. If write fails the existing file is untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &PersistenceError{Op: "create temp", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &PersistenceError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return &PersistenceError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	committed = true
	return nil
}

func writeCSVAtomic[T any](path string, rows []T) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return encodeCSV(w, rows)
	})
}

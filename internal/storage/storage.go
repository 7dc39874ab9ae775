// Package storage reads audio objects referenced by a generation's storage key.
package storage

import (
	"errors"
	"fmt"
	"io"
)

// MaxObjectBytes bounds how much of a single object is read into memory.
const MaxObjectBytes = 64 << 20

var (
	ErrNotFound = errors.New("object not found")
	ErrTooLarge = errors.New("object exceeds size limit")
)

// Object is a fully read object with whatever content type the backend knew.
type Object struct {
	Data        []byte
	ContentType string
}

func readAll(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = MaxObjectBytes
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

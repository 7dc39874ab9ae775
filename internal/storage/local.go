package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore serves objects from a directory, keys being slash-separated
// paths relative to Root.
type LocalStore struct {
	Root     string
	MaxBytes int64
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (l *LocalStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("local %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("local %s: %w", key, err)
	}
	defer f.Close()

	data, err := readAll(f, l.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("local %s: %w", key, err)
	}

	return &Object{
		Data:        data,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (l *LocalStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("local: empty key")
	}
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("local: key %q escapes storage root", key)
	}
	return filepath.Join(l.Root, rel), nil
}

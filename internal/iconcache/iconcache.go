// Package iconcache stores decoded notification icons on disk keyed by
// category. A key's bytes are written at most once; later stores for the
// same key return the existing path without inspecting the content.
package iconcache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	iconDirPerm  = fs.FileMode(0o700)
	iconFilePerm = fs.FileMode(0o600)
	iconExt      = ".png"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9._-]`)

// Recorder observes cache activity. The metrics package implements it.
type Recorder interface {
	IconWritten()
	IconReused()
}

type nopRecorder struct{}

func (nopRecorder) IconWritten() {}
func (nopRecorder) IconReused()  {}

// Cache is a write-once icon store rooted at a directory.
type Cache struct {
	dir      string
	logger   *slog.Logger
	recorder Recorder

	mu    sync.Mutex
	index map[string]string
}

// New opens the cache at dir, creating the directory if needed, and
// indexes any icons already present.
func New(dir string, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, iconDirPerm); err != nil {
		return nil, fmt.Errorf("creating icon directory: %w", err)
	}

	c := &Cache{
		dir:      dir,
		logger:   logger,
		recorder: nopRecorder{},
		index:    make(map[string]string),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading icon directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), iconExt) {
			continue
		}

		safe := strings.TrimSuffix(e.Name(), iconExt)
		c.index[safe] = filepath.Join(dir, e.Name())
	}

	return c, nil
}

// SetRecorder attaches a metrics recorder.
func (c *Cache) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}

	c.recorder = r
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// LookupOrStore returns the path of the icon stored under key, writing
// data first if no icon exists yet. Empty data returns "" and writes
// nothing.
func (c *Cache) LookupOrStore(key string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}

	safe := SanitizeKey(key)
	path := filepath.Join(c.dir, safe+iconExt)

	c.mu.Lock()
	existing, ok := c.index[safe]
	c.mu.Unlock()

	if ok {
		c.recorder.IconReused()
		return existing, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, iconFilePerm)
	if errors.Is(err, fs.ErrExist) {
		c.remember(safe, path)
		c.recorder.IconReused()

		return path, nil
	}

	if err != nil {
		return "", fmt.Errorf("creating icon %s: %w", safe, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)

		return "", fmt.Errorf("writing icon %s: %w", safe, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing icon %s: %w", safe, err)
	}

	c.remember(safe, path)
	c.recorder.IconWritten()

	return path, nil
}

// Clear removes every cached icon.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading icon directory: %w", err)
	}

	var errs []error

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), iconExt) {
			continue
		}

		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	c.index = make(map[string]string)

	if len(errs) > 0 {
		return fmt.Errorf("removing icons: %w", errors.Join(errs...))
	}

	return nil
}

// Len returns the number of indexed icons.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.index)
}

func (c *Cache) remember(safe, path string) {
	c.mu.Lock()
	c.index[safe] = path
	c.mu.Unlock()
}

func (c *Cache) forget(safe string) {
	c.mu.Lock()
	delete(c.index, safe)
	c.mu.Unlock()
}

// SanitizeKey lower-cases key and replaces every character outside
// [a-z0-9._-] with an underscore.
func SanitizeKey(key string) string {
	lowered := cases.Lower(language.Und).String(norm.NFC.String(key))

	safe := unsafeKeyChars.ReplaceAllString(lowered, "_")
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "_" + safe
	}

	return safe
}

// CategoryKey is the cache key of a category icon.
func CategoryKey(category string) string {
	return category
}

// SubCategoryKey is the cache key of a sub-category icon.
func SubCategoryKey(category, sub string) string {
	return category + "_" + sub
}

// MessageKey is the cache key of a per-message icon.
func MessageKey(category, sub string) string {
	return category + "_" + sub + "_m"
}

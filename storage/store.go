// Package storage stages workflow resources and archives execution results.
// Locations are afs URLs, so "file:///var/relay", "mem://localhost/relay"
// and "s3://bucket/prefix" all behave the same; plain paths are treated as
// local files.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/deepnoodle-ai/relay"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
)

// Options configures a Store.
type Options struct {
	// BaseURL is the location all keys are resolved against. Required.
	BaseURL string

	Logger *slog.Logger
}

// Store reads and writes objects under a base URL.
type Store struct {
	baseURL string
	fs      afs.Service
	logger  *slog.Logger
}

// New creates a Store rooted at the given base URL.
func New(opts Options) (*Store, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		baseURL: url.Normalize(strings.TrimRight(opts.BaseURL, "/"), file.Scheme),
		fs:      afs.New(),
		logger:  opts.Logger,
	}, nil
}

// BaseURL returns the store's root location.
func (s *Store) BaseURL() string { return s.baseURL }

// URI returns the full location of a key.
func (s *Store) URI(key string) string {
	return url.Join(s.baseURL, key)
}

// Upload writes data at the given key, replacing any existing object.
func (s *Store) Upload(ctx context.Context, key string, data []byte) error {
	location := s.URI(key)
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", location, err)
	}
	s.logger.Debug("uploaded object", "location", location, "bytes", len(data))
	return nil
}

// UploadFile copies a local file to the given key.
func (s *Store) UploadFile(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	return s.Upload(ctx, key, data)
}

// Download returns the object at the given key.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	location := s.URI(key)
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	return data, nil
}

// Exists reports whether an object is present at the given key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.fs.Exists(ctx, s.URI(key))
}

// Delete removes the object at the given key. Deleting an absent object is
// not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	location := s.URI(key)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete %s: %w", location, err)
	}
	return nil
}

// List returns the keys of all objects under the given prefix, relative to
// the store's base URL.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	location := s.baseURL
	if prefix != "" {
		location = url.Join(s.baseURL, prefix)
	}
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", location, err)
	}
	if !exists {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, location, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", location, err)
	}
	basePath := url.Path(s.baseURL)
	var keys []string
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		key := strings.TrimPrefix(strings.TrimPrefix(url.Path(object.URL()), basePath), "/")
		keys = append(keys, key)
	}
	return keys, nil
}

// ArchiveExecution writes a terminal execution under the session's prefix:
// the result payload to response.json and the execution record to
// execution.json. It returns the locations written.
func (s *Store) ArchiveExecution(ctx context.Context, session *Session, execution *relay.Execution) ([]string, error) {
	if execution == nil {
		return nil, fmt.Errorf("execution is required")
	}
	if !execution.Status.Terminal() {
		return nil, fmt.Errorf("cannot archive execution %s in status %q", execution.ID, execution.Status)
	}
	prefix := ""
	if session != nil {
		prefix = session.Prefix()
	}

	response, err := json.MarshalIndent(execution.Result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	record, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}

	responseKey := path.Join(prefix, "response.json")
	recordKey := path.Join(prefix, "execution.json")
	if err := s.Upload(ctx, responseKey, append(response, '\n')); err != nil {
		return nil, err
	}
	if err := s.Upload(ctx, recordKey, append(record, '\n')); err != nil {
		return nil, err
	}
	return []string{s.URI(responseKey), s.URI(recordKey)}, nil
}

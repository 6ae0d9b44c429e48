package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/feedwrap/feedwrap/internal/types"
)

// fileDocument is the on-disk layout: one JSON document holding every key.
type fileDocument struct {
	State    *types.ScrapeState `json:"scraping_state,omitempty"`
	Results  *types.FinalResult `json:"latest_results,omitempty"`
	Identity *types.Identity    `json:"identity,omitempty"`
	LastSync time.Time          `json:"last_sync_timestamp,omitzero"`
}

// FileStore persists state as a single JSON file, written via a temp file and
// rename so a crash mid-write never corrupts the previous checkpoint.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{
		path:   path,
		logger: logger.With("component", "file_store"),
	}, nil
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) LoadState(ctx context.Context) (*types.ScrapeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if doc.State == nil {
		return nil, types.ErrNoState
	}
	return doc.State, nil
}

func (s *FileStore) SaveState(ctx context.Context, st *types.ScrapeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(doc *fileDocument) {
		doc.State = st
	})
}

func (s *FileStore) LoadResults(ctx context.Context) (*types.FinalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	if doc.Results == nil {
		return nil, types.ErrNoResults
	}
	return doc.Results, nil
}

func (s *FileStore) SaveResults(ctx context.Context, r *types.FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(doc *fileDocument) {
		doc.Results = r
		doc.LastSync = time.Now().UTC()
	})
}

func (s *FileStore) LoadIdentity(ctx context.Context) (*types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Identity, nil
}

func (s *FileStore) SaveIdentity(ctx context.Context, id *types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(func(doc *fileDocument) {
		doc.Identity = id
	})
}

func (s *FileStore) LastSync(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	return doc.LastSync, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &types.StoreError{Backend: "file", Err: err}
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return &types.StoreError{Backend: "file", Err: err}
	}
	return nil
}

func (s *FileStore) Close(ctx context.Context) error { return nil }

// read loads the current document; a missing file is an empty document.
func (s *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, &types.StoreError{Backend: "file", Err: err}
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, &types.StoreError{Backend: "file", Err: err}
	}
	return doc, nil
}

// update applies fn to the current document and writes it back atomically.
func (s *FileStore) update(fn func(*fileDocument)) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	fn(doc)

	tmpPath := s.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return &types.StoreError{Backend: "file", Err: err}
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		f.Close()
		return &types.StoreError{Backend: "file", Err: err}
	}
	f.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return &types.StoreError{Backend: "file", Err: err}
	}
	return nil
}

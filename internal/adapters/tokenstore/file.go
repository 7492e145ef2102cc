package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps the session in a single JSON file. Writes go through a temp file
// and a rename so readers never observe a partial value. Changes made by other
// processes are reported through an fsnotify watch on the parent directory.
type FileStore struct {
	path   string
	key    string
	logger *slog.Logger

	mu   sync.Mutex
	self *fileState // last value this store wrote, nil until the first write
}

// fileState is a snapshot of the file: absent, or present with raw bytes.
type fileState struct {
	present bool
	data    []byte
}

func (s *fileState) equal(o *fileState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.present == o.present && bytes.Equal(s.data, o.data)
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	Path string
	// Key is reported on storage events; defaults to DefaultKey.
	Key    string
	Logger *slog.Logger
}

// NewFileStore creates the parent directory if needed and returns a store.
func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	if opts.Path == "" {
		return nil, errors.New("token file path is required")
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve token path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}
	return &FileStore{
		path:   path,
		key:    opts.Key,
		logger: logger.With("component", "token_store", "store", "file"),
	}, nil
}

// Path returns the absolute file path.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Save(_ context.Context, sess domainauth.Session) error {
	data, err := domainauth.EncodeSession(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.path, data); err != nil {
		return err
	}
	f.self = &fileState{present: true, data: data}
	return nil
}

func (f *FileStore) Load(_ context.Context) (*domainauth.Session, error) {
	st, err := f.read()
	if err != nil {
		return nil, err
	}
	return decodeState(st)
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	f.self = &fileState{}
	return nil
}

// Subscribe watches the token file until ctx ends.
func (f *FileStore) Subscribe(ctx context.Context) (<-chan ports.StorageEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch token dir: %w", err)
	}

	seen, err := f.read()
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	out := make(chan ports.StorageEvent, eventBuffer)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				cur, err := f.read()
				if err != nil {
					f.logger.WarnContext(ctx, "read token file after change", "error", err)
					continue
				}
				if cur.equal(seen) {
					continue
				}
				seen = cur
				if f.wroteLast(cur) {
					continue
				}
				sess, err := decodeState(cur)
				if err != nil {
					f.logger.WarnContext(ctx, "ignoring unreadable token file", "error", err)
					continue
				}
				if !send(ctx, out, ports.StorageEvent{Key: f.key, NewValue: sess}) {
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.WarnContext(ctx, "token file watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

func (f *FileStore) wroteLast(st *fileState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.self.equal(st)
}

func (f *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return &fileState{present: true, data: data}, nil
}

func decodeState(st *fileState) (*domainauth.Session, error) {
	if !st.present {
		return nil, nil
	}
	sess, err := domainauth.DecodeSession(st.data)
	if errors.Is(err, domainauth.ErrEmptySession) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	return sess, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/vidflow/internal/config"
	"github.com/timmy/vidflow/internal/repository"
	"github.com/timmy/vidflow/internal/storage"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "service.db"),
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// fakeStore is an in-memory ObjectStore.
type fakeStore struct {
	mu      sync.Mutex
	meta    map[string]*storage.ObjectMetadata
	objects map[string][]byte
	acls    map[string]storage.ACL
	deleted []string
	headErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		meta:    make(map[string]*storage.ObjectMetadata),
		objects: make(map[string][]byte),
		acls:    make(map[string]storage.ACL),
	}
}

func (s *fakeStore) addVideo(key string, size int64, contentType string, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = &storage.ObjectMetadata{Size: size, ContentType: contentType, Tags: tags}
	s.objects[key] = []byte("video-bytes")
}

func (s *fakeStore) HeadMetadata(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return nil, s.headErr
	}
	m, ok := s.meta[key]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return m, nil
}

func (s *fakeStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://presigned.test/" + key + "?ttl=" + ttl.String(), nil
}

func (s *fakeStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string, acl storage.ACL) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.acls[key] = acl
	return nil
}

func (s *fakeStore) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) object(key string) ([]byte, storage.ACL, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, s.acls[key], ok
}

func (s *fakeStore) keysWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// fakeMedia returns a fixed frame and writes placeholder files for extract and transcode.
type fakeMedia struct {
	mu        sync.Mutex
	frame     []byte
	frameErr  error
	grabs     int
	windows   []float64
	extractFn func(start float64) error
}

func newFakeMedia(t *testing.T, w, h int) *fakeMedia {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return &fakeMedia{frame: buf.Bytes()}
}

func (m *fakeMedia) GrabFrame(ctx context.Context, input string, offset time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grabs++
	return m.frame, m.frameErr
}

func (m *fakeMedia) ExtractWindow(ctx context.Context, input string, start, length float64, output string) error {
	m.mu.Lock()
	m.windows = append(m.windows, start)
	fn := m.extractFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(start); err != nil {
			return err
		}
	}
	return os.WriteFile(output, []byte("window"), 0o644)
}

func (m *fakeMedia) TranscodeAudio(ctx context.Context, input, output string) error {
	return os.WriteFile(output, []byte("mp3-audio"), 0o644)
}

// fakeEngine answers by matching substrings of the media reference.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	answers  map[string]string // substring -> transcript
	fallback string
	err      error
}

func (e *fakeEngine) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, mediaRef)
	if e.err != nil {
		return "", e.err
	}
	for sub, text := range e.answers {
		if strings.Contains(mediaRef, sub) {
			return text, nil
		}
	}
	return e.fallback, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeFeedback records calls and returns increasing IDs.
type fakeFeedback struct {
	mu     sync.Mutex
	nextID uint
	err    error
	calls  int
}

func (f *fakeFeedback) Generate(ctx context.Context, videoID uint, questionID uint64, answer string) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	return f.nextID, nil
}

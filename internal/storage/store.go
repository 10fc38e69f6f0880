package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the upload directory and its derived artifacts: the
// original-name map and the extracted-text cache. Stored names carry a
// random uuid-hex prefix so cache and mapping never collide across
// users.
type Store struct {
	uploadDir string
	dataDir   string
	filesDir  string

	mu sync.Mutex // serializes file_map.json rewrites
}

// FileMapping records where an original filename ended up.
type FileMapping struct {
	UniqueName string  `json:"unique_name"`
	Timestamp  float64 `json:"timestamp"`
}

func New(uploadDir, dataDir string) (*Store, error) {
	filesDir := filepath.Join(dataDir, "files")
	for _, dir := range []string{uploadDir, dataDir, filesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir %s failed: %w", dir, err)
		}
	}
	return &Store{uploadDir: uploadDir, dataDir: dataDir, filesDir: filesDir}, nil
}

// SaveUpload writes the uploaded bytes under a freshly generated
// unique name and records the original-name mapping.
func (s *Store) SaveUpload(originalName string, r io.Reader) (string, error) {
	sanitized := SanitizeFilename(originalName)
	if sanitized == "" {
		return "", fmt.Errorf("unusable filename %q", originalName)
	}
	uniqueName := strings.ReplaceAll(uuid.New().String(), "-", "") + "_" + sanitized

	dst, err := os.Create(filepath.Join(s.uploadDir, uniqueName))
	if err != nil {
		return "", fmt.Errorf("create upload file failed: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("write upload file failed: %w", err)
	}

	if err := s.recordMapping(sanitized, uniqueName); err != nil {
		return "", err
	}
	return uniqueName, nil
}

// recordMapping rewrites file_map.json with the new entry.
// Last write wins on original-name collisions.
func (s *Store) recordMapping(originalName, uniqueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, "file_map.json")
	mapping := map[string]FileMapping{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &mapping); err != nil {
			mapping = map[string]FileMapping{}
		}
	}

	mapping[originalName] = FileMapping{
		UniqueName: uniqueName,
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
	}

	out, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file map failed: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write file map failed: %w", err)
	}
	return nil
}

// Mappings returns the current original-name map.
func (s *Store) Mappings() (map[string]FileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.dataDir, "file_map.json"))
	if os.IsNotExist(err) {
		return map[string]FileMapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file map failed: %w", err)
	}
	mapping := map[string]FileMapping{}
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse file map failed: %w", err)
	}
	return mapping, nil
}

// UploadPath resolves a stored name inside the upload dir, rejecting
// anything that would escape it.
func (s *Store) UploadPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid stored filename %q", name)
	}
	return filepath.Join(s.uploadDir, name), nil
}

func (s *Store) UploadExists(name string) bool {
	path, err := s.UploadPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// CachedText returns the memoized extraction result for a stored
// name. Presence is always trusted.
func (s *Store) CachedText(uniqueName string) (string, bool) {
	if uniqueName != filepath.Base(uniqueName) {
		return "", false
	}
	raw, err := os.ReadFile(filepath.Join(s.filesDir, uniqueName+".txt"))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (s *Store) WriteCachedText(uniqueName, text string) error {
	if uniqueName != filepath.Base(uniqueName) {
		return fmt.Errorf("invalid cache key %q", uniqueName)
	}
	if err := os.WriteFile(filepath.Join(s.filesDir, uniqueName+".txt"), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write text cache failed: %w", err)
	}
	return nil
}

// SanitizeFilename strips path components and squeezes anything
// outside [A-Za-z0-9._-] to underscores.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "._")
	return out
}

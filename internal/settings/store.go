package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known keys. Device-scoped keys derive from the kind id, e.g.
// "opz" -> OPZ_MOUNT_PATH / OPZ_DETECTED_PATH.
const (
	KeyDeveloperMode = "DEVELOPER_MODE"
	KeyFFmpegPath    = "FFMPEG_PATH"

	mountPathSuffix    = "_MOUNT_PATH"
	detectedPathSuffix = "_DETECTED_PATH"
)

// ErrNotFound reports a missing settings key.
var ErrNotFound = errors.New("settings: key not found")

// Store is a mutex-guarded key-value settings file.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]any
}

// Open loads the settings file at path, creating an empty store when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("settings path is required")
	}

	store := &Store{path: trimmed, values: map[string]any{}}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store.values); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", trimmed, err)
	}
	return store, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the raw value for key, or ErrNotFound.
func (s *Store) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// GetString returns the value for key as a string, or fallback when the key
// is missing or empty.
func (s *Store) GetString(key, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return fallback
	}
	str, ok := value.(string)
	if !ok || str == "" {
		return fallback
	}
	return str
}

// GetBool returns the value for key as a bool, or fallback.
func (s *Store) GetBool(key string, fallback bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return fallback
	}
	b, ok := value.(bool)
	if !ok {
		return fallback
	}
	return b
}

// Set stores a value and persists the file.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.saveLocked()
}

// Delete removes a key. It reports whether the key existed.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return false, nil
	}
	delete(s.values, key)
	return true, s.saveLocked()
}

// Reset clears all values and persists the empty file.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = map[string]any{}
	return s.saveLocked()
}

// DeveloperMode reports whether auto-detection results should defer to a
// manually configured path.
func (s *Store) DeveloperMode() bool {
	return s.GetBool(KeyDeveloperMode, false)
}

// MountPathKey returns the manual mount path key for a device kind id.
func MountPathKey(kindID string) string {
	return strings.ToUpper(strings.TrimSpace(kindID)) + mountPathSuffix
}

// DetectedPathKey returns the auto-detected path cache key for a device kind id.
func DetectedPathKey(kindID string) string {
	return strings.ToUpper(strings.TrimSpace(kindID)) + detectedPathSuffix
}

// EffectiveMountPath resolves the path the rest of the application should use
// for a device: the manual path in developer mode, the detected path otherwise.
func (s *Store) EffectiveMountPath(kindID string) string {
	if s.DeveloperMode() {
		return s.GetString(MountPathKey(kindID), "")
	}
	return s.GetString(DetectedPathKey(kindID), "")
}

// RecordDetectedPath mirrors an auto-detection result into the store. In
// developer mode the manual path is authoritative and nothing is written.
func (s *Store) RecordDetectedPath(kindID, path string) error {
	if s.DeveloperMode() {
		return nil
	}
	return s.Set(DetectedPathKey(kindID), path)
}

// ClearDetectedPath empties the cached path after a disconnect. A no-op in
// developer mode for the same reason as RecordDetectedPath.
func (s *Store) ClearDetectedPath(kindID string) error {
	if s.DeveloperMode() {
		return nil
	}
	return s.Set(DetectedPathKey(kindID), "")
}

func (s *Store) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.values, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

package store

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	ErrInvalidID = errors.New("invalid space id")
	ErrNotFound  = errors.New("space not found")
	ErrExists    = errors.New("space already exists")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is a safe space identifier. Anything else is
// rejected before a path is ever formed from it.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Store owns the durable flat files for spaces: one plain-text snapshot per
// space under spaces/, and one optional opaque update-log per space under
// history/. The log bytes are never interpreted here beyond whole-file and
// append operations.
type Store struct {
	spacesDir  string
	historyDir string
}

func New(dataDir string) (*Store, error) {
	s := &Store{
		spacesDir:  filepath.Join(dataDir, "spaces"),
		historyDir: filepath.Join(dataDir, "history"),
	}
	if err := os.MkdirAll(s.spacesDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.historyDir, 0755); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) snapshotPath(id string) string {
	return filepath.Join(s.spacesDir, id+".txt")
}

func (s *Store) logPath(id string) string {
	return filepath.Join(s.historyDir, id+".log")
}

// List returns the ids of all spaces with a snapshot file, sorted
// lexicographically.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.spacesDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".txt"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Exists(id string) (bool, error) {
	if !ValidID(id) {
		return false, ErrInvalidID
	}
	_, err := os.Stat(s.snapshotPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Read returns the snapshot content for a space.
func (s *Store) Read(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidID
	}
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// WriteSnapshot replaces the snapshot file with content. The space is
// created on first write.
func (s *Store) WriteSnapshot(id, content string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	return os.WriteFile(s.snapshotPath(id), []byte(content), 0644)
}

// Create makes an empty snapshot, failing with ErrExists when the space
// already has one.
func (s *Store) Create(id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	exists, err := s.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}
	return s.WriteSnapshot(id, "")
}

// Delete removes the snapshot and the update-log if they exist. Deleting a
// space that was never written is not an error.
func (s *Store) Delete(id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if err := os.Remove(s.snapshotPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.DeleteLog(id)
}

// Rename moves both durable files to the new id. The target is checked
// before anything moves so a conflict leaves the source untouched.
func (s *Store) Rename(oldID, newID string) error {
	if !ValidID(oldID) || !ValidID(newID) {
		return ErrInvalidID
	}
	sourceExists, err := s.Exists(oldID)
	if err != nil {
		return err
	}
	if !sourceExists {
		return ErrNotFound
	}
	targetExists, err := s.Exists(newID)
	if err != nil {
		return err
	}
	if targetExists {
		return ErrExists
	}
	if err := os.Rename(s.snapshotPath(oldID), s.snapshotPath(newID)); err != nil {
		return err
	}
	if _, err := os.Stat(s.logPath(oldID)); err == nil {
		return os.Rename(s.logPath(oldID), s.logPath(newID))
	}
	return nil
}

// Update-log operations. The log is opaque; the document engine owns its
// framing.

func (s *Store) LogExists(id string) (bool, error) {
	if !ValidID(id) {
		return false, ErrInvalidID
	}
	_, err := os.Stat(s.logPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) ReadLog(id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	data, err := os.ReadFile(s.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) WriteLog(id string, data []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	return os.WriteFile(s.logPath(id), data, 0644)
}

// AppendLog adds already-framed bytes to the end of the space's log,
// creating it if needed.
func (s *Store) AppendLog(id string, framed []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	file, err := os.OpenFile(s.logPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(framed); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (s *Store) DeleteLog(id string) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if err := os.Remove(s.logPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

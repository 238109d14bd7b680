package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"maverage/internal/domain"
)

// ActionFile persists the last action marker as a single line of text.
type ActionFile struct {
	path string
	now  func() time.Time
}

// NewActionFile creates a marker file handle at path.
func NewActionFile(path string) *ActionFile {
	return &ActionFile{path: path, now: time.Now}
}

// Path returns the file location.
func (f *ActionFile) Path() string {
	return f.path
}

// ReadMarker returns an empty marker when the file does not exist.
func (f *ActionFile) ReadMarker() (domain.Marker, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.Marker{}, nil
	}
	if err != nil {
		return domain.Marker{}, fmt.Errorf("read action marker: %w", err)
	}
	return domain.ParseMarker(string(data)), nil
}

// WriteMarker replaces the file content.
func (f *ActionFile) WriteMarker(m domain.Marker) error {
	if err := os.WriteFile(f.path, []byte(m.Format(f.now())), 0644); err != nil {
		return fmt.Errorf("write action marker: %w", err)
	}
	slog.Debug("Action marker written", slog.String("file", f.path), slog.String("action", m.Code()))
	return nil
}

// WritePIDFile records "<pid> <instance>" so an external supervisor can find the process.
func WritePIDFile(path, instance string) error {
	content := fmt.Sprintf("%d %s", os.Getpid(), instance)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the pid and instance recorded in path.
func ReadPIDFile(path string) (int, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	var pid int
	var instance string
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d %s", &pid, &instance); err != nil {
		return 0, "", fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, instance, nil
}

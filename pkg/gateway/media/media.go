// Package media stores uploaded files as temporary artifacts.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const DefaultMIMEType = "application/octet-stream"

type Artifact struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	MIMEType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Path         string    `json:"-"`
	ProcessedAt  time.Time `json:"processedAt"`
}

// Processor turns raw uploaded bytes into an Artifact.
type Processor interface {
	ProcessFile(ctx context.Context, raw []byte, declaredMIME, originalName string) (Artifact, error)
}

// TempStore writes artifacts into a directory as "<id>_<name>".
type TempStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewTempStore(dir string, logger *slog.Logger) (*TempStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("media temp dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media temp dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TempStore{dir: dir, logger: logger, now: time.Now}, nil
}

func (s *TempStore) Dir() string { return s.dir }

func (s *TempStore) ProcessFile(ctx context.Context, raw []byte, declaredMIME, originalName string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	now := s.now()
	name := sanitizeName(originalName)
	art := Artifact{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		OriginalName: originalName,
		MIMEType:     ResolveMIMEType(declaredMIME, name),
		Size:         int64(len(raw)),
		ProcessedAt:  now.UTC(),
	}
	art.Path = filepath.Join(s.dir, art.ID+"_"+name)

	if err := os.WriteFile(art.Path, raw, 0o600); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	s.logger.Debug("media artifact stored", "artifact_id", art.ID, "mime_type", art.MIMEType, "size", art.Size)
	return art, nil
}

// Remove deletes the artifact with the given id.
func (s *TempStore) Remove(id string) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, id+"_*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove artifact: %w", err)
		}
	}
	return nil
}

// CleanupOlderThan removes artifacts older than maxAge and reports how many
// were deleted.
func (s *TempStore) CleanupOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read media temp dir: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("media cleanup failed", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// ResolveMIMEType prefers the declared type, then the file extension.
func ResolveMIMEType(declared, name string) string {
	if d := strings.TrimSpace(declared); d != "" && d != DefaultMIMEType {
		return d
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if base, _, err := mime.ParseMediaType(byExt); err == nil {
			return base
		}
		return byExt
	}
	return DefaultMIMEType
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// Package storage lays out job files under a per-client directory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the UTC timestamp prefix of every job file name.
const TimeLayout = "20060102T150405Z"

// Store creates job files under Root. Directory creation is idempotent, so
// a Store may be shared by concurrent jobs.
type Store struct {
	Root string
	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

func New(root string) *Store { return &Store{Root: root} }

// Job names the files of one job.
type Job struct {
	// ID is "<timestamp>-<uuid>", unique across concurrent jobs.
	ID  string
	Dir string
	Ext string
}

// NewJob allocates an identifier for a job from client and creates the
// client's directory.
func (s *Store) NewJob(client, ext string) (Job, error) {
	if s.Root == "" {
		return Job{}, errors.New("storage: root not configured")
	}
	dir := filepath.Join(s.Root, sanitize(client))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create client directory: %w", err)
	}
	now, newID := time.Now, uuid.NewString
	if s.Now != nil {
		now = s.Now
	}
	if s.NewID != nil {
		newID = s.NewID
	}
	id := now().UTC().Format(TimeLayout) + "-" + newID()
	return Job{ID: id, Dir: dir, Ext: strings.TrimPrefix(ext, ".")}, nil
}

// RawPath is where the job is kept as received.
func (j Job) RawPath() string { return filepath.Join(j.Dir, j.ID+".raw."+j.Ext) }

// FinalPath is where the watermarked document is written.
func (j Job) FinalPath() string { return filepath.Join(j.Dir, j.ID+"."+j.Ext) }

// WriteRaw stores the job as received.
func (j Job) WriteRaw(data []byte) error { return writeFile(j.RawPath(), data) }

// WriteFinal stores the watermarked document.
func (j Job) WriteFinal(data []byte) error { return writeFile(j.FinalPath(), data) }

// RemoveRaw deletes the raw snapshot. A snapshot that was never written is
// not an error.
func (j Job) RemoveRaw() error {
	err := os.Remove(j.RawPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// writeFile writes through a temporary name so readers never see a
// partial file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// sanitize makes a client address usable as one path element. IPv6 zones
// and colons are kept on systems that allow them.
func sanitize(client string) string {
	client = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, client)
	if client == "" || client == "." || client == ".." {
		return "unknown"
	}
	return client
}

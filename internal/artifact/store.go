// Package artifact provides a content-addressed disk store for audio files.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/book-expert/voice-clone-service/internal/core"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
	tmpDirName      = "tmp"
)

// Store persists audio artifacts under a base directory with two namespaces,
// references/ and outputs/. Files are written to a temporary location and
// published with an atomic rename, so a partially written file is never
// visible. Every file on disk has exactly one record in the index.
type Store struct {
	fs      afero.Fs
	baseDir string
	log     *logger.Logger

	mu    sync.Mutex
	index map[string]core.AudioArtifact // key -> record
}

// New creates a Store rooted at baseDir, creating the namespace directories
// and rebuilding the record index from files already on disk, so artifacts
// survive a restart without becoming orphans.
func New(fsys afero.Fs, baseDir string, log *logger.Logger) (*Store, error) {
	for _, dir := range []string{
		filepath.Join(baseDir, string(core.KindReference)),
		filepath.Join(baseDir, string(core.KindOutput)),
		filepath.Join(baseDir, tmpDirName),
	} {
		err := fsys.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to create directory %s: %w", dir, err))
		}
	}

	store := &Store{
		fs:      fsys,
		baseDir: baseDir,
		log:     log,
		index:   make(map[string]core.AudioArtifact),
	}

	for _, kind := range []core.ArtifactKind{core.KindReference, core.KindOutput} {
		err := store.restore(kind)
		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

// restore re-indexes one namespace from disk. Filenames carry the identity
// (checksum, job id, format); the probed audio properties are not persisted
// and stay zero on restored records.
func (s *Store) restore(kind core.ArtifactKind) error {
	dir := filepath.Join(s.baseDir, string(kind))

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return classify(fmt.Errorf("failed to scan %s: %w", dir, err))
	}

	restored := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		record, ok := recordFromFile(kind, entry.Name(), entry.Size(), entry.ModTime())
		if !ok {
			s.log.Warn("Ignoring unrecognized file %q in %s", entry.Name(), dir)

			continue
		}

		record.Path = filepath.Join(dir, entry.Name())
		s.index[record.Key] = record
		restored++
	}

	if restored > 0 {
		s.log.Info("Restored %d %s records from disk", restored, kind)
	}

	return nil
}

// recordFromFile rebuilds an artifact record from its on-disk name:
// references/<checksum>.<ext> and outputs/<jobid>-<checksum>.<ext>.
func recordFromFile(
	kind core.ArtifactKind,
	fileName string,
	size int64,
	modTime time.Time,
) (core.AudioArtifact, bool) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return core.AudioArtifact{}, false
	}

	name := strings.TrimSuffix(fileName, ext)
	checksum := name
	jobID := ""

	if kind == core.KindOutput {
		idx := strings.LastIndex(name, "-")
		if idx < 0 {
			return core.AudioArtifact{}, false
		}

		jobID = name[:idx]
		checksum = name[idx+1:]
	}

	if len(checksum) != sha256.Size*2 {
		return core.AudioArtifact{}, false
	}

	return core.AudioArtifact{
		Key:       filepath.Join(string(kind), fileName),
		Kind:      kind,
		JobID:     jobID,
		Format:    core.AudioFormat(strings.TrimPrefix(ext, ".")),
		ByteSize:  size,
		Checksum:  checksum,
		CreatedAt: modTime.UTC(),
	}, true
}

// Store persists data in the given namespace. Reference uploads are
// content-addressed by checksum and de-duplicated: storing identical bytes
// twice returns the first record. Generated outputs include the job id in
// their identity and are never de-duplicated across jobs.
func (s *Store) Store(
	_ context.Context,
	data []byte,
	kind core.ArtifactKind,
	meta core.ArtifactMeta,
) (core.AudioArtifact, error) {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	key := artifactKey(kind, checksum, meta)

	s.mu.Lock()
	existing, found := s.index[key]
	s.mu.Unlock()

	if found && kind == core.KindReference {
		s.log.Info(
			"Reference %s already stored (%s), reusing",
			checksum[:12],
			humanize.Bytes(uint64(existing.ByteSize)),
		)

		return existing, nil
	}

	path := filepath.Join(s.baseDir, key)

	err := s.publish(path, data)
	if err != nil {
		return core.AudioArtifact{}, err
	}

	record := core.AudioArtifact{
		Key:        key,
		Path:       path,
		Kind:       kind,
		JobID:      meta.JobID,
		Format:     meta.Format,
		SampleRate: meta.SampleRate,
		Duration:   meta.Duration,
		ByteSize:   int64(len(data)),
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.index[key] = record
	s.mu.Unlock()

	s.log.Info("Stored %s artifact %s (%s)", kind, key, humanize.Bytes(uint64(len(data))))

	return record, nil
}

// Load returns the bytes of a stored artifact by key.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	record, found := s.index[key]
	s.mu.Unlock()

	if !found {
		return nil, core.NewStorageError(
			core.StorageIOError,
			fmt.Errorf("no record for key %q", key),
		)
	}

	data, err := afero.ReadFile(s.fs, record.Path)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read artifact %q: %w", key, err))
	}

	return data, nil
}

// Get returns the record for a stored artifact by key.
func (s *Store) Get(key string) (core.AudioArtifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.index[key]

	return record, found
}

// publish writes data to the tmp namespace, then renames into place.
func (s *Store) publish(path string, data []byte) error {
	tmpPath := filepath.Join(s.baseDir, tmpDirName, uuid.NewString())

	err := afero.WriteFile(s.fs, tmpPath, data, filePermissions)
	if err != nil {
		return classify(fmt.Errorf("failed to write temporary file: %w", err))
	}

	err = s.fs.Rename(tmpPath, path)
	if err != nil {
		removeErr := s.fs.Remove(tmpPath)
		if removeErr != nil {
			s.log.Warn("Failed to remove temporary file %q: %v", tmpPath, removeErr)
		}

		return classify(fmt.Errorf("failed to publish artifact: %w", err))
	}

	return nil
}

// artifactKey builds the deterministic storage key for an artifact.
func artifactKey(kind core.ArtifactKind, checksum string, meta core.ArtifactMeta) string {
	name := checksum
	if kind == core.KindOutput {
		// Output identity includes the job, so identical bytes from two
		// jobs produce two artifacts.
		name = meta.JobID + "-" + checksum
	}

	return filepath.Join(string(kind), name+"."+string(meta.Format))
}

// classify maps filesystem errors onto the storage error taxonomy.
func classify(err error) *core.StorageError {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return core.NewStorageError(core.StorageDiskFull, err)
	case errors.Is(err, os.ErrPermission):
		return core.NewStorageError(core.StoragePermissionDenied, err)
	default:
		return core.NewStorageError(core.StorageIOError, err)
	}
}

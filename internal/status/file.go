package status

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

const tempSuffix = ".tmp"

// Artifacts lists the files a run writes into the repository root, relative
// to it.
func Artifacts() []string {
	return []string{FileName, FileName + tempSuffix, LogFileName}
}

// Path returns the status file location for a repository root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, FileName)
}

// LogPath returns the run log location for a repository root.
func LogPath(repoRoot string) string {
	return filepath.Join(repoRoot, LogFileName)
}

// Write atomically replaces the status file at path. The record is written to
// a temporary file in the same directory, fsynced and renamed into place, so
// readers never observe a partial record.
func Write(path string, rec Record) error {
	data := rec.Render()
	temporaryPath := path + tempSuffix

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary status file", goerr.V("path", temporaryPath))
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return goerr.Wrap(err, "failed to write temporary status file", goerr.V("path", temporaryPath))
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return goerr.Wrap(err, "failed to sync temporary status file", goerr.V("path", temporaryPath))
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return goerr.Wrap(err, "failed to close temporary status file", goerr.V("path", temporaryPath))
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return goerr.Wrap(err, "failed to rename status file into place", goerr.V("path", path))
	}

	// The rename is only durable once the directory entry is flushed.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}

	return nil
}

// Read loads and parses the status file at path. A missing file yields an
// error wrapping os.ErrNotExist.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, goerr.Wrap(err, "failed to read status file", goerr.V("path", path))
	}
	rec, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Record{}, goerr.Wrap(err, "failed to parse status file", goerr.V("path", path))
	}
	return rec, nil
}

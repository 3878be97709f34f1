// Package backup writes and restores tar.gz archives of the Upkeep database
// and configuration file, and prunes old archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/upkeep/internal/store"
	"github.com/HerbHall/upkeep/internal/version"
)

const (
	manifestName  = "manifest.json"
	archivePrefix = "upkeep-backup-"
	archiveSuffix = ".tar.gz"
)

// Manifest describes an archive's contents.
type Manifest struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Database  string    `json:"database"`
	Config    string    `json:"config,omitempty"`
}

// ArchiveName returns the file name used for a backup taken at t.
func ArchiveName(t time.Time) string {
	return archivePrefix + t.UTC().Format("20060102T150405Z") + archiveSuffix
}

// Backup snapshots the database at dbPath with VACUUM INTO and writes it,
// the optional config file and a manifest to archivePath. The live database
// may stay open while this runs.
func Backup(ctx context.Context, dbPath, configPath, archivePath string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "upkeep-backup-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, filepath.Base(dbPath))
	if err := snapshotDB(ctx, dbPath, snapshot); err != nil {
		return err
	}

	manifest := Manifest{
		Version:   version.Short(),
		CreatedAt: time.Now().UTC(),
		Database:  filepath.Base(dbPath),
	}
	if configPath != "" {
		manifest.Config = filepath.Base(configPath)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o750); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	if err := writeArchive(out, manifest, snapshot, configPath); err != nil {
		out.Close()
		os.Remove(archivePath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

func snapshotDB(ctx context.Context, dbPath, dest string) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Snapshot(ctx, dest); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}

func writeArchive(w io.Writer, manifest Manifest, dbFile, configPath string) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, manifestName, data); err != nil {
		return err
	}
	if err := addFile(tw, dbFile, manifest.Database); err != nil {
		return err
	}
	if configPath != "" {
		if err := addFile(tw, configPath, manifest.Config); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finishing gzip: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	_, err := tw.Write(data)
	return err
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Rotate deletes the oldest archives in dir so at most keep remain. Files
// not named like ArchiveName output are left alone. It returns the removed
// paths.
func Rotate(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var archives []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix) {
			archives = append(archives, name)
		}
	}
	if len(archives) <= keep {
		return nil, nil
	}

	// The timestamp format sorts lexically.
	sort.Strings(archives)
	var removed []string
	for _, name := range archives[:len(archives)-keep] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

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
	"strings"
)

// maxEntrySize caps a single extracted file.
const maxEntrySize = 4 << 30

// Restore unpacks archivePath into targetDir. Entries are staged in a
// temporary directory first, so a damaged or incomplete archive leaves the
// target untouched. Existing files are only replaced when force is set.
func Restore(ctx context.Context, archivePath, targetDir string, force bool) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating target directory: %w", err)
	}
	staging, err := os.MkdirTemp(targetDir, ".restore-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	var (
		manifest *Manifest
		files    []string
		hasDB    bool
	)
	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) && hdr != nil {
			return nil, fmt.Errorf("path traversal detected: %q", hdr.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := entryName(hdr.Name)
		if err != nil {
			return nil, err
		}

		if name == manifestName {
			manifest = &Manifest{}
			if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(manifest); err != nil {
				return nil, fmt.Errorf("reading manifest: %w", err)
			}
			continue
		}
		if strings.HasSuffix(name, ".db") {
			hasDB = true
		}
		if err := extract(tr, filepath.Join(staging, name), hdr.Mode); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", name, err)
		}
		files = append(files, name)
	}

	if !hasDB {
		return nil, errors.New("invalid backup: archive does not contain a .db file")
	}

	if !force {
		for _, name := range files {
			dest := filepath.Join(targetDir, name)
			if _, err := os.Stat(dest); err == nil {
				return nil, fmt.Errorf("file already exists (use --force to overwrite): %s", dest)
			}
		}
	}
	for _, name := range files {
		dest := filepath.Join(targetDir, name)
		if err := os.Rename(filepath.Join(staging, name), dest); err != nil {
			return nil, fmt.Errorf("installing %s: %w", dest, err)
		}
		// Stale WAL files belong to the replaced database.
		if strings.HasSuffix(name, ".db") {
			os.Remove(dest + "-wal")
			os.Remove(dest + "-shm")
		}
	}
	return manifest, nil
}

// entryName accepts only plain file names. Archives written by Backup are
// flat, so anything with a directory component is rejected.
func entryName(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("path traversal detected: absolute path %q", name)
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q", name)
	}
	if filepath.Base(cleaned) != cleaned || cleaned == "." {
		return "", fmt.Errorf("unexpected archive entry %q", name)
	}
	return cleaned, nil
}

func extract(r io.Reader, dest string, mode int64) error {
	perm := os.FileMode(mode & 0o600)
	if perm == 0 {
		perm = 0o600
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxEntrySize {
		err = fmt.Errorf("entry exceeds %d bytes", int64(maxEntrySize))
	}
	return err
}

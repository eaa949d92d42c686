package hivemq

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/zip"
)

// extractZip unpacks the archive at zipPath into dst. Entries that would land
// outside dst are rejected.
func extractZip(zipPath string, dst billy.Filesystem) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if err := extractEntry(f, dst); err != nil {
			return fmt.Errorf("failed to extract %s from %s: %w", f.Name, zipPath, err)
		}
	}
	return nil
}

func extractEntry(f *zip.File, dst billy.Filesystem) error {
	name, err := safeEntryName(f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return dst.MkdirAll(name, homeDirMode)
	}
	if dir := path.Dir(name); dir != "." {
		if err := dst.MkdirAll(dir, homeDirMode); err != nil {
			return err
		}
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = homeFileMode
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := dst.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func safeEntryName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry %q escapes the destination", ErrInvalidExtension, name)
	}
	return clean, nil
}

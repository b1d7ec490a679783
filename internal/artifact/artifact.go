// Package artifact resolves generated application bundles into directories
// that can be deployed.
package artifact

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the referenced bundle does not exist.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a resolved bundle.
type Artifact struct {
	// ID identifies the artifact in ledgers and reports. For zip bundles it
	// is the archive's file name.
	ID string
	// Dir is the directory holding the application source.
	Dir string
	// BaseDir is where sibling outputs (snapshot, report) are written.
	BaseDir string
	// Archive is the zip the artifact came from, if any.
	Archive string
}

// stem is the ID without a .zip suffix.
func (a *Artifact) stem() string {
	return strings.TrimSuffix(a.ID, ".zip")
}

// SnapshotPath is where the health probe stores its screenshot.
func (a *Artifact) SnapshotPath() string {
	return filepath.Join(a.BaseDir, a.stem()+".png")
}

// ReportPath is where the failure report for this artifact is written.
func (a *Artifact) ReportPath() string {
	return filepath.Join(a.BaseDir, a.stem()+".txt")
}

// Resolver finds artifacts in a downloads directory.
type Resolver struct {
	DownloadsDir string
}

// NewResolver creates a resolver rooted at downloadsDir.
func NewResolver(downloadsDir string) *Resolver {
	return &Resolver{DownloadsDir: downloadsDir}
}

// Resolve turns a reference into an Artifact. A reference naming an existing
// directory is used in place. Anything else is treated as a zip file name
// (URL-escaped names are accepted) inside the downloads directory and is
// extracted next to it.
func (r *Resolver) Resolve(ref string) (*Artifact, error) {
	if ref == "" {
		return nil, errors.New("artifact reference is empty")
	}

	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref, err)
		}
		return &Artifact{ID: filepath.Base(abs), Dir: abs, BaseDir: filepath.Dir(abs)}, nil
	}

	name := ref
	if unescaped, err := url.PathUnescape(ref); err == nil {
		name = unescaped
	}

	archive := name
	if !filepath.IsAbs(archive) {
		archive = filepath.Join(r.DownloadsDir, name)
	}
	if _, err := os.Stat(archive); err != nil {
		return nil, fmt.Errorf("%w: %s non-exist in %s", ErrNotFound, name, archive)
	}

	base := filepath.Dir(archive)
	dest := filepath.Join(base, FolderName(filepath.Base(archive)))
	if err := Unzip(archive, dest); err != nil {
		return nil, fmt.Errorf("unzip %s: %w", filepath.Base(archive), err)
	}

	return &Artifact{
		ID:      filepath.Base(archive),
		Dir:     dest,
		BaseDir: base,
		Archive: archive,
	}, nil
}

// FolderName derives the extraction folder for a zip file name.
func FolderName(fileName string) string {
	name := strings.TrimSuffix(fileName, ".zip")
	name = strings.ReplaceAll(name, "&", "_and_")
	return strings.ReplaceAll(name, " ", "_")
}

// Unzip extracts src into dest, creating dest if needed. Entries that would
// land outside dest are rejected.
func Unzip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	root := filepath.Clean(dest) + string(os.PathSeparator)

	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

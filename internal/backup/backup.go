// Package backup implements the state-directory snapshot/restore pair
// behind `mc backup`/`mc restore`: both uniform dispatcher instances per
// spec.md's CLI surface table, given a minimal real implementation here
// rather than left as bare plumbing, since an operations CLI that can't
// actually snapshot its own state directory would be a toy.
//
// Grounded on the teacher's internal/stack package for "walk a
// directory, build a tar stream, write it out" structure (the teacher
// builds build-context tars for image builds); gzip framing uses
// klauspost/compress, already an indirect dependency of the teacher's
// module graph via containerd, promoted here to a direct one.
package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/example/masterclaw/internal/errs"
	"github.com/example/masterclaw/internal/safety"
)

// backupsDirName is the subdirectory of $MC_STATE_DIR snapshots are
// written to and restored from, per spec.md's persisted state layout.
const backupsDirName = "backups"

// Manifest describes one completed snapshot.
type Manifest struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	Files     int       `json:"files"`
	Bytes     int64     `json:"bytes"`
}

// Snapshot archives every regular file directly under stateDir (not
// recursing into the backups directory itself) into a new gzip-framed
// tar under stateDir/backups, named by the snapshot time.
func Snapshot(ctx context.Context, stateDir string, now time.Time) (Manifest, error) {
	backupsDir := filepath.Join(stateDir, backupsDirName)
	if err := os.MkdirAll(backupsDir, 0o700); err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "create backups directory", err)
	}

	name := fmt.Sprintf("snapshot-%s.tar.gz", now.UTC().Format("20060102T150405Z"))
	dest := filepath.Join(backupsDir, name)

	entries, err := os.ReadDir(stateDir)
	if err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "read state dir", err)
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "create snapshot file", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	manifest := Manifest{Path: dest, CreatedAt: now}
	// Sorted for deterministic archive contents across runs with the
	// same state (easier to diff two snapshots by hand).
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == backupsDirName {
			continue
		}
		if e.IsDir() {
			continue // only top-level state files are archived, not subdirectories
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		select {
		case <-ctx.Done():
			return Manifest{}, ctx.Err()
		default:
		}
		if err := addFile(tw, stateDir, name, &manifest); err != nil {
			return Manifest{}, err
		}
	}

	if err := tw.Close(); err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "finalize tar stream", err)
	}
	if err := gz.Close(); err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "finalize gzip stream", err)
	}
	info, statErr := os.Stat(dest)
	if statErr == nil {
		manifest.Bytes = info.Size()
	}
	return manifest, nil
}

func addFile(tw *tar.Writer, stateDir, name string, manifest *Manifest) error {
	path := filepath.Join(stateDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "stat state file", err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "build tar header", err)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "write tar header", err)
	}
	src, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "open state file", err)
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "write tar entry", err)
	}
	manifest.Files++
	return nil
}

// Restore extracts archivePath back into stateDir, rejecting any entry
// whose name would escape stateDir (zip-slip) or contains a traversal
// segment, per internal/safety's path-validation rules.
func Restore(ctx context.Context, stateDir, archivePath string) (Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return Manifest{}, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "open snapshot file", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, errs.Wrap(errs.KindValidation, errs.CodeUsage, "snapshot is not a valid gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	manifest := Manifest{Path: archivePath}
	for {
		select {
		case <-ctx.Done():
			return Manifest{}, ctx.Err()
		default:
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, errs.Wrap(errs.KindValidation, errs.CodeUsage, "corrupt snapshot archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := safety.ValidatePath(hdr.Name, safety.PathOptions{}); err != nil {
			return Manifest{}, errs.New(errs.KindSecurity, errs.CodeUsage,
				fmt.Sprintf("refusing to restore unsafe archive entry %q: %s", hdr.Name, err))
		}
		dest := filepath.Join(stateDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(dest, filepath.Clean(stateDir)+string(os.PathSeparator)) {
			return Manifest{}, errs.New(errs.KindSecurity, errs.CodeUsage,
				fmt.Sprintf("refusing to restore archive entry %q outside state dir", hdr.Name))
		}
		if err := extractFile(tr, dest, fs.FileMode(hdr.Mode)); err != nil {
			return Manifest{}, err
		}
		manifest.Files++
	}
	info, statErr := os.Stat(archivePath)
	if statErr == nil {
		manifest.Bytes = info.Size()
	}
	return manifest, nil
}

func extractFile(tr *tar.Reader, dest string, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o600
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "create restored file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, tr); err != nil {
		return errs.Wrap(errs.KindDependency, errs.CodeGeneric, "write restored file", err)
	}
	return nil
}

// List returns the snapshot files under stateDir/backups, newest first.
func List(stateDir string) ([]string, error) {
	backupsDir := filepath.Join(stateDir, backupsDirName)
	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindDependency, errs.CodeGeneric, "list backups directory", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

package execute

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/util"
)

// copyOSDirToFs recursively copies a directory from the real OS filesystem
// into destFs at destDir, preserving mtimes where the destination backend
// supports it (a failed Chtimes is ignored).
func copyOSDirToFs(destFs afero.Fs, srcOSDir, destDir string) error {
	info, err := os.Stat(srcOSDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", srcOSDir)
	}

	return filepath.WalkDir(srcOSDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(srcOSDir, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			return destFs.MkdirAll(target, 0o755)
		}
		return copyOSFileToFs(destFs, path, target)
	})
}

// copyOSFileToFs copies one regular file from the real OS filesystem into
// destFs at destPath. Opening the source goes through util.RetryableOpen
// since base/donor discs are routinely read off removable or network-mounted
// drives, where a transient EIO or ECONNRESET on open is worth one retry
// rather than an immediate build failure.
func copyOSFileToFs(destFs afero.Fs, srcOSPath, destPath string) error {
	src, err := util.RetryableOpen(srcOSPath, util.DefaultRetryConfig())
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	if err := destFs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := destFs.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	_ = destFs.Chtimes(destPath, info.ModTime(), info.ModTime())
	return nil
}

// copyFsDirToFs recursively copies one afero.Fs subtree to another location
// within the same afero.Fs, used by finalizeOutput for the internal
// building->final directory tree move on backends whose
// Rename cannot span the two (never true for OsFs or MemMapFs, kept for
// robustness against other afero backends).
func copyFsDirToFs(fsys afero.Fs, srcDir, destDir string) error {
	return afero.Walk(fsys, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(destDir, rel)
		if info.IsDir() {
			return fsys.MkdirAll(target, 0o755)
		}
		return copyFsFile(fsys, path, target, info)
	})
}

func copyFsFile(fsys afero.Fs, srcPath, destPath string, info os.FileInfo) error {
	src, err := fsys.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := fsys.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	dst, err := fsys.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	_ = fsys.Chtimes(destPath, info.ModTime(), info.ModTime())
	return nil
}

// pruneSongFolders removes every numeric song-folder entry under exportRoot
// (on fsys) whose song id is not in keep.
func pruneSongFolders(fsys afero.Fs, exportRoot string, keep map[int]bool) (pruned int, err error) {
	entries, err := afero.ReadDir(fsys, exportRoot)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			// Not a song folder (textures/, covers/, etc.); leave it alone.
			continue
		}
		if keep[id] {
			continue
		}
		if err := fsys.RemoveAll(filepath.Join(exportRoot, e.Name())); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

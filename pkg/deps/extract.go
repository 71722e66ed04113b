package deps

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

type archiveExtractor func(f *os.File, bar *progressbar.ProgressBar, t target) error

// target describes where archive entries end up
type target struct {
	dest  string
	strip int
	// only limits the extraction to entries below this archive path
	only string
	// root is dest with all symlinks resolved
	root string
}

// Extract unpacks the archive at archivePath into destPath, removing strip leading path elements from
// each entry. If only is set, entries outside of that archive directory are skipped. The format is
// detected from the URL's suffix.
func Extract(archivePath, url, destPath string, strip int, only string, progress func(int64, string) *progressbar.ProgressBar) error {
	extractor, err := getExtractor(url)
	if err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", archivePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	err = os.MkdirAll(destPath, 0770)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", destPath)
	}

	root, err := filepath.EvalSymlinks(destPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s", destPath)
	}

	bar := progress(info.Size(), "      extract")
	err = extractor(f, bar, target{dest: destPath, strip: strip, only: only, root: root})
	if err != nil {
		return err
	}

	return bar.Finish()
}

func getExtractor(url string) (archiveExtractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, t target) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, t)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, t target) error {
			return extractTar(bzip2.NewReader(f), f, bar, t)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, t target) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, t)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

// entryDest normalizes the entry path and strips t.strip elements from the beginning. An empty result
// means that the entry has to be skipped.
func entryDest(t target, item string) (string, error) {
	destPath := t.dest
	item = filepath.Clean(filepath.FromSlash(item))
	if t.only != "" {
		only := filepath.Clean(filepath.FromSlash(t.only))
		if !strings.HasPrefix(item, only+string(filepath.Separator)) {
			return "", nil
		}
	}

	pathParts := strings.Split(item, string(filepath.Separator))
	if len(pathParts) <= t.strip {
		return "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[t.strip:], string(filepath.Separator)))
	if dest == destPath {
		return "", nil
	}

	if !within(destPath, dest) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, destPath)
	}

	return dest, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkParents makes sure that none of dest's existing parent directories is a symlink leading out
// of the destination
func (t target) checkParents(dest string) error {
	dir := filepath.Dir(dest)
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !within(t.root, resolved) {
				return eris.Errorf("%s would be written to %s outside of %s", dest, resolved, t.dest)
			}
			return nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return eris.Wrapf(err, "Failed to resolve %s", dir)
		}
		if _, err := os.Lstat(dir); err == nil {
			return eris.Errorf("%s is a dangling symlink", dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// checkLink rejects symlinks which point outside of the destination
func (t target) checkLink(dest, linkname string) error {
	linkTarget := filepath.FromSlash(linkname)
	if !filepath.IsAbs(linkTarget) {
		linkTarget = filepath.Join(filepath.Dir(dest), linkTarget)
	}

	if !within(t.dest, linkTarget) && !within(t.root, linkTarget) {
		return eris.Errorf("symlink %s points to %s outside of %s", dest, linkname, t.dest)
	}

	return nil
}

func createDest(t target, dest string, mode os.FileMode) (*os.File, error) {
	err := t.checkParents(dest)
	if err != nil {
		return nil, err
	}

	destParent := filepath.Dir(dest)
	err = os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	// replace symlinks instead of writing through them
	if info, err := os.Lstat(dest); err == nil && info.Mode()&os.ModeSymlink != 0 {
		os.Remove(dest)
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, nil
}

func trackProgress(f *os.File, bar *progressbar.ProgressBar) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		bar.Set64(pos)
	}
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, t target) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := entryDest(t, item.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		err = copyZipEntry(t, item, dest)
		if err != nil {
			return err
		}

		trackProgress(f, bar)
	}

	return nil
}

func copyZipEntry(t target, item *zip.File, dest string) error {
	itemHandle, err := item.Open()
	if err != nil {
		return eris.Wrap(err, "Failed to open archive entry")
	}
	defer itemHandle.Close()

	destHandle, err := createDest(t, dest, 0660)
	if err != nil {
		return err
	}
	defer destHandle.Close()

	_, err = io.Copy(destHandle, itemHandle)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, t target) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		dest, err := entryDest(t, item.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			err = t.checkLink(dest, item.Linkname)
			if err == nil {
				err = t.checkParents(dest)
			}
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory for %s", dest)
			}

			os.Remove(dest)
			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		if item.Typeflag != tar.TypeReg {
			continue
		}

		destHandle, err := createDest(t, dest, fi.Mode().Perm()|0600)
		if err != nil {
			return err
		}

		_, err = io.Copy(destHandle, archive)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "Failed to write extracted file %s", dest)
		}

		trackProgress(f, bar)
	}

	return nil
}

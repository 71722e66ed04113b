// Package dist packs the built overlay and its runtime files into a release archive.
package dist

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// Supported archive formats
const (
	FormatXZ     = "tar.xz"
	FormatBrotli = "tar.br"
)

// Options describe the archive to create
type Options struct {
	// Root is the directory all patterns are resolved against. Archive entries are relative to it.
	Root   string
	Output string
	Format string
	// Files lists paths or glob patterns. Plain paths have to exist while patterns may match nothing.
	// Directories are packed recursively.
	Files []string
}

type compressor func(io.Writer) (io.WriteCloser, error)

func getCompressor(format string) (compressor, error) {
	switch format {
	case FormatXZ:
		return func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		}, nil
	case FormatBrotli:
		return func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, brotli.BestCompression), nil
		}, nil
	}

	return nil, eris.Errorf("Archive format %s not supported", format)
}

// Collect resolves opts.Files into a sorted list of files relative to opts.Root
func Collect(opts Options) ([]string, error) {
	seen := map[string]bool{}
	result := []string{}

	for _, pattern := range opts.Files {
		pattern = filepath.FromSlash(pattern)
		var matches []string
		if strings.ContainsAny(pattern, "*?[") {
			var err error
			matches, err = filepath.Glob(filepath.Join(opts.Root, pattern))
			if err != nil {
				return nil, eris.Wrapf(err, "Invalid pattern %s", pattern)
			}
		} else {
			matches = []string{filepath.Join(opts.Root, pattern)}
		}

		for _, match := range matches {
			err := walkItem(opts.Root, match, func(rel string) {
				if !seen[rel] {
					seen[rel] = true
					result = append(result, rel)
				}
			})
			if err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(result)
	return result, nil
}

func walkItem(root, item string, add func(string)) error {
	info, err := os.Stat(item)
	if err != nil {
		return eris.Wrapf(err, "Failed to read %s", item)
	}

	if !info.IsDir() {
		rel, err := filepath.Rel(root, item)
		if err != nil {
			return eris.Wrapf(err, "Failed to make %s relative to %s", item, root)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return eris.Errorf("%s is outside of %s", item, root)
		}

		add(filepath.ToSlash(rel))
		return nil
	}

	f, err := os.Open(item)
	if err != nil {
		return eris.Wrapf(err, "Failed to open dir %s", item)
	}

	names, err := f.Readdirnames(0)
	f.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to read dir %s", item)
	}

	for _, name := range names {
		err = walkItem(root, filepath.Join(item, name), add)
		if err != nil {
			return err
		}
	}

	return nil
}

// Pack writes the archive described by opts and returns the packed entries
func Pack(opts Options) ([]string, error) {
	compress, err := getCompressor(opts.Format)
	if err != nil {
		return nil, err
	}

	entries, err := Collect(opts)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, eris.New("Nothing to pack")
	}

	hdl, err := os.Create(opts.Output)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", opts.Output)
	}

	err = writeArchive(hdl, compress, opts.Root, entries)
	if err != nil {
		hdl.Close()
		os.Remove(opts.Output)
		return nil, err
	}

	err = hdl.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to write %s", opts.Output)
	}

	return entries, nil
}

func writeArchive(w io.Writer, compress compressor, root string, entries []string) error {
	cw, err := compress(w)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize compressor")
	}

	tw := tar.NewWriter(cw)
	for _, entry := range entries {
		err = writeEntry(tw, root, entry)
		if err != nil {
			return err
		}
	}

	err = tw.Close()
	if err != nil {
		return eris.Wrap(err, "Failed to finish tar stream")
	}

	return eris.Wrap(cw.Close(), "Failed to finish compression")
}

func writeEntry(tw *tar.Writer, root, entry string) error {
	itemPath := filepath.Join(root, filepath.FromSlash(entry))
	f, err := os.Open(itemPath)
	if err != nil {
		return eris.Wrapf(err, "Failed to open file %s", itemPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "Failed to stat file %s", itemPath)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "Failed to build header for %s", itemPath)
	}
	hdr.Name = entry

	err = tw.WriteHeader(hdr)
	if err != nil {
		return eris.Wrapf(err, "Failed to pack file %s", itemPath)
	}

	_, err = io.Copy(tw, f)
	if err != nil {
		return eris.Wrapf(err, "Failed to pack file %s", itemPath)
	}

	return nil
}

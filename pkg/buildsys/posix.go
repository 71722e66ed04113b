package buildsys

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
)

// cmd.exe doesn't expand patterns so we have to do it ourselves on Windows
func expandPatterns(dir string, args []string, allowMissing bool) ([]string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		arg = resolveIn(dir, arg)
		if runtime.GOOS != "windows" {
			items = append(items, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowMissing {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

func resolveIn(dir, item string) string {
	if dir == "" || filepath.IsAbs(item) {
		return item
	}

	return filepath.Join(dir, item)
}

// Remove deletes the given items relative to dir. Directories are only removed if recursive is set.
// With force set, missing items are ignored.
func Remove(dir string, args []string, recursive, force bool) error {
	items, err := expandPatterns(dir, args, force)
	if err != nil {
		return err
	}

	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(item)
		if err != nil && (!force || !eris.Is(err, os.ErrNotExist)) {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// Mkdir creates the given directories relative to dir
func Mkdir(dir string, args []string, parents bool) error {
	for _, item := range args {
		item = resolveIn(dir, item)

		var err error
		if parents {
			err = os.MkdirAll(item, 0770)
		} else {
			err = os.Mkdir(item, 0770)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// Move moves the given items into dest. The last argument is the destination.
func Move(dir string, args []string) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := filepath.Clean(resolveIn(dir, args[len(args)-1]))
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}
	if err == nil {
		destIsDir = info.IsDir()
	}

	if len(args) > 2 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	items, err := expandPatterns(dir, args[:len(args)-1], false)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// parsePosixFlags splits short flags like "-rf" from the remaining arguments
func parsePosixFlags(args []string, known string) (map[rune]bool, []string, error) {
	flags := make(map[rune]bool)
	for idx, arg := range args {
		if arg == "--" {
			return flags, args[idx+1:], nil
		}

		if len(arg) < 2 || arg[0] != '-' {
			return flags, args[idx:], nil
		}

		for _, r := range arg[1:] {
			if !strings.ContainsRune(known, r) {
				return nil, nil, eris.Errorf("unknown flag -%c", r)
			}
			flags[r] = true
		}
	}

	return flags, []string{}, nil
}

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/caffeio/pkg/support/sets"
	"github.com/pkg/errors"
)

// ImageExtensions are the (lower-case) file extensions of the image formats that can be decoded.
var ImageExtensions = sets.MakeWith(".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".bmp")

// IsImageFile returns whether the file name has one of the ImageExtensions (case-insensitive).
func IsImageFile(name string) bool {
	return ImageExtensions.Has(strings.ToLower(filepath.Ext(name)))
}

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return path.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// ExpandImagePaths returns the image files for the given arguments, in order: files are used as given,
// and directories are replaced by the image files they contain (not recursively), sorted by name.
//
// A leading "~" is replaced by the home directory, and repeated files are only listed once.
func ExpandImagePaths(args []string) ([]string, error) {
	seen := sets.Make[string]()
	var paths []string
	add := func(p string) {
		if !seen.Has(p) {
			seen.Insert(p)
			paths = append(paths, p)
		}
	}
	for _, arg := range args {
		p, err := ReplaceTildeInDir(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid image path %q", arg)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list images in %q", arg)
		}
		var names []string
		for _, entry := range entries {
			if !entry.IsDir() && IsImageFile(entry.Name()) {
				names = append(names, entry.Name())
			}
		}
		slices.Sort(names)
		for _, name := range names {
			add(filepath.Join(p, name))
		}
	}
	return paths, nil
}

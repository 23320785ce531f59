package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type FileInfo struct {
	Path  string
	Ext   string
	Mtime int64
	Size  int64
}

// Expand turns command-line arguments into import candidates. Files are
// kept as given so an unsupported file still reports its diagnosis;
// directories are walked for files whose extension is in exts.
func Expand(args []string, exts []string) ([]FileInfo, error) {
	var files []FileInfo
	seen := make(map[string]bool)
	add := func(fi FileInfo) {
		if !seen[fi.Path] {
			seen[fi.Path] = true
			files = append(files, fi)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// left for the importer to report as an I/O failure
			add(FileInfo{Path: arg, Ext: ext(arg)})
			continue
		}
		if !info.IsDir() {
			add(fileInfo(arg, info))
			continue
		}
		found, err := Walk(arg, exts)
		if err != nil {
			return nil, err
		}
		for _, fi := range found {
			add(fi)
		}
	}
	return files, nil
}

// Walk lists files under root with one of exts, sorted by path. Hidden
// directories and unreadable entries are skipped.
func Walk(root string, exts []string) ([]FileInfo, error) {
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = true
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable dirs
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !want[ext(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo(path, info))
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, err
}

func fileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:  path,
		Ext:   ext(path),
		Mtime: info.ModTime().Unix(),
		Size:  info.Size(),
	}
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Paths returns just the paths of files.
func Paths(files []FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

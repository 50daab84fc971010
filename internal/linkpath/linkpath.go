// Package linkpath maps source files to the destination directory that
// receives their hardlink. Everything here is pure string manipulation; no
// function touches the filesystem.
package linkpath

import (
	"path/filepath"
	"sort"
	"strings"
)

// Save modes. A save mode of N > 0 keeps the last N directory segments of
// the source-relative path; 0 keeps all of them.
const (
	FullTree     = 0
	TopLevelOnly = 1
)

// ResolveDestination returns the directory under destRoot that should hold
// the hardlink for sourceFile.
//
// When mkdirIfSingle is set and sourceFile sits directly in sourceRoot, a
// directory named after the file (extension stripped) is synthesized so
// standalone files get a folder of their own.
func ResolveDestination(sourceFile, sourceRoot, destRoot string, saveMode int, mkdirIfSingle bool) string {
	rel := relativeDir(sourceFile, sourceRoot)

	if mkdirIfSingle && rel == "" {
		name := filepath.Base(sourceFile)
		rel = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if rel == "" {
		return filepath.Clean(destRoot)
	}

	segments := strings.Split(rel, string(filepath.Separator))
	if saveMode > 0 && saveMode < len(segments) {
		segments = segments[len(segments)-saveMode:]
	}

	return filepath.Join(append([]string{destRoot}, segments...)...)
}

// DestinationFile is ResolveDestination joined with the source base name.
func DestinationFile(sourceFile, sourceRoot, destRoot string, saveMode int, mkdirIfSingle bool) string {
	dir := ResolveDestination(sourceFile, sourceRoot, destRoot, saveMode, mkdirIfSingle)
	return filepath.Join(dir, filepath.Base(sourceFile))
}

func relativeDir(sourceFile, sourceRoot string) string {
	rel, err := filepath.Rel(filepath.Clean(sourceRoot), filepath.Dir(filepath.Clean(sourceFile)))
	if err != nil || rel == "." {
		return ""
	}
	return rel
}

// CommonAncestor returns the deepest directory shared by every path, with a
// trailing separator. The search starts from the parent of the path with the
// fewest segments and walks upward until every path is under it. An empty
// input, or relative paths with nothing in common, yield "".
func CommonAncestor(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.SliceStable(sorted, func(i, j int) bool {
		return segmentCount(sorted[i]) < segmentCount(sorted[j])
	})

	rest := sorted[1:]
	dir := filepath.Dir(filepath.Clean(sorted[0]))
	for {
		prefix := withSep(dir)
		if allHavePrefix(rest, prefix) {
			return prefix
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func segmentCount(p string) int {
	return len(strings.Split(p, string(filepath.Separator)))
}

func withSep(dir string) string {
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return dir
	}
	return dir + string(filepath.Separator)
}

func allHavePrefix(paths []string, prefix string) bool {
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			return false
		}
	}
	return true
}

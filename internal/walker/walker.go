package walker

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile is the per-directory file listing patterns to skip.
const IgnoreFile = ".regauditignore"

// FileInfo holds metadata about a discovered document.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
}

// maxFileSize is the largest file we'll consider (64 MB).
const maxFileSize = 64 << 20

// defaultIgnores are used when no ignore file exists. Only tool-owned
// directories are listed; folders such as archive/ may hold live policies.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	".regaudit",
}

// Walk traverses the directory tree rooted at root and sends discovered
// documents on the returned channel. It only emits files whose lowercased
// extension is in allowedExts, and skips directories and files matching
// ignore patterns.
func Walk(root string, allowedExts map[string]bool) (<-chan FileInfo, <-chan error) {
	files := make(chan FileInfo, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}

		ignores := loadIgnorePatterns(absRoot)

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == absRoot {
					return err
				}
				return nil // skip errors, keep walking
			}

			rel, _ := filepath.Rel(absRoot, path)
			rel = filepath.ToSlash(rel)
			name := d.Name()

			if d.IsDir() {
				if path == absRoot {
					return nil
				}
				if matchesIgnore(name, rel, ignores) {
					return filepath.SkipDir
				}
				return nil
			}

			// Skip symlinks, hidden files and the ignore file itself.
			if d.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(name, ".") {
				return nil
			}
			if matchesIgnore(name, rel, ignores) {
				return nil
			}

			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if !allowedExts[ext] {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}

			// Skip large or empty files.
			if info.Size() > maxFileSize || info.Size() == 0 {
				return nil
			}

			files <- FileInfo{
				Path:    path,
				RelPath: rel,
				Size:    info.Size(),
			}
			return nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return files, errs
}

// loadIgnorePatterns reads the ignore file from the root. Without one, the
// default patterns apply.
func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return defaultIgnores
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return defaultIgnores
	}
	return patterns
}

// matchesIgnore checks if a name or relative path matches any ignore pattern.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		// Exact name match (e.g. "drafts", ".git").
		if name == p {
			return true
		}
		// Path prefix match (e.g. "legal/archive").
		if strings.HasPrefix(relPath, p+"/") || relPath == p {
			return true
		}
		// Glob match against the relative path.
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}

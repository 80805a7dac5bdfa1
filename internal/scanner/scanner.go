// Package scanner discovers eligible STL source files from files and
// directories ahead of enqueueing.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
)

// Scanner walks input paths and produces a de-duplicated, stably ordered
// list of eligible source files.
type Scanner struct {
	extensions map[string]struct{}
	logger     arbor.ILogger
}

// New creates a scanner accepting the given extensions (default: .stl).
func New(logger arbor.ILogger, extensions []string) *Scanner {
	if len(extensions) == 0 {
		extensions = []string{".stl"}
	}
	accepted := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		accepted[strings.ToLower(ext)] = struct{}{}
	}
	return &Scanner{extensions: accepted, logger: logger}
}

// Scan resolves each input path: files matching an accepted extension are
// included as-is; directories are walked (recursively when requested).
// Symlink cycles terminate via visited real-path tracking. Permission
// errors on individual entries are logged and skipped, never fatal to the
// overall scan.
func (s *Scanner) Scan(paths []string, recursive bool) ([]string, error) {
	var results []string
	seen := make(map[string]struct{})        // resolved file paths, for dedup
	visitedDirs := make(map[string]struct{}) // resolved dir paths, for cycle breaking

	add := func(path string) {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			real = path
		}
		if _, dup := seen[real]; dup {
			return
		}
		seen[real] = struct{}{}
		results = append(results, path)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("scan input %s: %w", path, err)
		}

		if !info.IsDir() {
			if s.accepts(path) {
				add(path)
			} else {
				s.logger.Warn().Str("path", path).Msg("Input file has an unsupported extension, skipping")
			}
			continue
		}

		if err := s.walkDir(path, recursive, visitedDirs, add); err != nil {
			return nil, err
		}
	}

	s.logger.Info().Int("files", len(results)).Int("inputs", len(paths)).Msg("Scan complete")
	return results, nil
}

func (s *Scanner) walkDir(root string, recursive bool, visited map[string]struct{}, add func(string)) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err == nil {
		if _, cycle := visited[realRoot]; cycle {
			s.logger.Debug().Str("dir", root).Msg("Directory already visited, skipping")
			return nil
		}
		visited[realRoot] = struct{}{}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn().Err(walkErr).Str("path", path).Msg("Scan entry inaccessible, skipping")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if !recursive {
				return fs.SkipDir
			}
			real, err := filepath.EvalSymlinks(path)
			if err == nil {
				if _, cycle := visited[real]; cycle {
					return fs.SkipDir
				}
				visited[real] = struct{}{}
			}
			return nil
		}

		// Follow file symlinks but walk directory symlinks through the
		// cycle guard above.
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Broken symlink, skipping")
				return nil
			}
			if target.IsDir() {
				if recursive {
					return s.walkDir(path, recursive, visited, add)
				}
				return nil
			}
		}

		if s.accepts(path) {
			add(path)
		}
		return nil
	})
}

func (s *Scanner) accepts(path string) bool {
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

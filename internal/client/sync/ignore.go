package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/driftbox/driftbox/internal/utils"
)

// ignoreFileName holds user patterns, gitignore syntax, at the sync root.
const ignoreFileName = ".driftboxignore"

var defaultIgnoreLines = []string{
	// hidden files and dirs anywhere in the tree
	".*",
	"**/.*",
	// editor and transfer droppings
	"*.tmp",
	"**/*.tmp",
	"*~",
	"**/*~",
}

// IgnoreList decides which paths the watcher and the initial scan skip.
type IgnoreList struct {
	baseDir string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string) *IgnoreList {
	il := &IgnoreList{baseDir: baseDir}
	il.Load()
	return il
}

// Load compiles the default rules plus the user's .driftboxignore if present.
func (il *IgnoreList) Load() {
	lines := make([]string, len(defaultIgnoreLines))
	copy(lines, defaultIgnoreLines)

	ignorePath := filepath.Join(il.baseDir, ignoreFileName)
	if utils.FileExists(ignorePath) {
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("ignore file open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				if line := scanner.Text(); line != "" {
					lines = append(lines, line)
					rules++
				}
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read", "path", ignorePath, "error", err)
			} else {
				slog.Info("ignore file loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	il.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore takes a path relative to the sync root.
func (il *IgnoreList) ShouldIgnore(relPath string) bool {
	return il.ignore.MatchesPath(relPath)
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

// DirStats summarizes a path collection.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
	Failed  uint32
}

// AllowedExt checks if a file extension is in the accepted set.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// CollectPaths expands roots into files. Files named explicitly are kept
// whatever their extension; directories are walked and filtered by
// extension. Order is deterministic: roots in order, walk order within.
func CollectPaths(ctx context.Context, roots []string, skipHidden bool) ([]string, DirStats, error) {
	if len(roots) == 0 {
		return nil, DirStats{}, errors.New("at least one path is required")
	}
	var (
		paths []string
		stats DirStats
	)
	for _, root := range roots {
		st, err := os.Stat(root)
		if err != nil {
			return paths, stats, fmt.Errorf("stat %s: %w", root, err)
		}
		if !st.IsDir() {
			stats.Scanned++
			stats.Matched++
			paths = append(paths, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				stats.Failed++
				return nil // continue walking
			}
			if path != root && skipHidden && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				stats.Skipped++
				return nil
			}
			if d.IsDir() {
				return nil
			}
			stats.Scanned++
			if !AllowedExt(filepath.Ext(path)) {
				stats.Skipped++
				return nil
			}
			stats.Matched++
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return paths, stats, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return paths, stats, nil
}

// Rejection is a path LoadFiles could not accept.
type Rejection struct {
	Path string
	Err  error
}

// LoadFiles reads every path into an InputFile, enforcing the per-file cap.
// Unreadable or oversized files are returned as rejections; the rest load.
func LoadFiles(paths []string, maxBytes int64) ([]pipeline.InputFile, []Rejection) {
	files := make([]pipeline.InputFile, 0, len(paths))
	var rejected []Rejection
	for _, p := range paths {
		in, err := loadFile(p, maxBytes)
		if err != nil {
			rejected = append(rejected, Rejection{Path: p, Err: common.WrapError(err, p)})
			continue
		}
		files = append(files, in)
	}
	return files, rejected
}

func loadFile(path string, maxBytes int64) (pipeline.InputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.InputFile{}, err
	}
	defer f.Close()
	return ReadUpload(filepath.Base(path), f, maxBytes)
}

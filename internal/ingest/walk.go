package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Walk lists regular files under root whose slash-separated relative path
// matches one of includes and none of excludes. Empty includes means "**/*".
// A directory matching an exclude pattern with a trailing slash is pruned.
func Walk(root string, includes, excludes []string) ([]string, error) {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && matchAny(excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchAny(includes, rel) && !matchAny(excludes, rel) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}

// FileOutcome is the result of reading one path in IngestFiles.
type FileOutcome struct {
	Path   string
	Result Result
	Err    error
}

// IngestFiles reads paths concurrently. Outcomes are in input order and a
// failing file does not stop the others. progress, if non-nil, is called once
// per finished file from the reading goroutine.
func (i *Ingester) IngestFiles(ctx context.Context, paths []string, progress func(FileOutcome)) ([]FileOutcome, error) {
	out := make([]FileOutcome, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for n, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := i.IngestFile(p, "")
			out[n] = FileOutcome{Path: p, Result: res, Err: err}
			if progress != nil {
				progress(out[n])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest files: %w", err)
	}
	return out, nil
}

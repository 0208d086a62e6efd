package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/loadrunner/internal/storage/objectstore"
)

// Uploader stores one local file under key.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// UnavailableUploader fails every upload with err. It lets the worker record
// a storage setup failure in the run log like any other upload failure.
func UnavailableUploader(err error) Uploader {
	return unavailableUploader{err: err}
}

type unavailableUploader struct {
	err error
}

func (u unavailableUploader) PutFile(ctx context.Context, key, localPath string) error {
	return u.err
}

type UploadResult struct {
	Uploaded int
	Failed   int
	Err      error
}

// UploadDir uploads every regular file under dir to "<runID>/<rel path>".
// Per-file failures do not stop the walk; they are joined into Err.
func UploadDir(ctx context.Context, up Uploader, runID, dir string, concurrency int) UploadResult {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu     sync.Mutex
		result UploadResult
		errs   []error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Failed++
		errs = append(errs, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fail(fmt.Errorf("walk %s: %w", path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			fail(err)
			return nil
		}
		key := objectstore.ObjectKey(runID, rel)
		g.Go(func() error {
			if err := up.PutFile(ctx, key, path); err != nil {
				fail(fmt.Errorf("put %s: %w", key, err))
				return nil
			}
			mu.Lock()
			result.Uploaded++
			mu.Unlock()
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	result.Err = errors.Join(errs...)
	return result
}

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bitrise-io/figshare-uploader/figshare"
	"github.com/bitrise-io/go-utils/v2/log"
)

// PartAPI is the part of the figshare client that sends part bytes.
type PartAPI interface {
	UploadPart(ctx context.Context, uploadURL string, partNo int, data []byte) error
}

// PartResult describes one uploaded part.
type PartResult struct {
	PartNo      int
	StartOffset int64
	EndOffset   int64
	Duration    time.Duration
}

// partReader reads manifest parts from a file with positioned reads, so
// concurrent reads don't share a file offset.
type partReader struct {
	file *os.File
}

func openPartReader(path string) (*partReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return &partReader{file: file}, nil
}

// Read returns exactly part.Len() bytes starting at part.StartOffset.
func (r *partReader) Read(part figshare.Part) ([]byte, error) {
	data := make([]byte, part.Len())
	n, err := io.ReadFull(io.NewSectionReader(r.file, part.StartOffset, part.Len()), data)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &figshare.IntegrityError{
			PartNo: part.PartNo,
			Reason: fmt.Sprintf("read %d of %d bytes at offset %d, the file is shorter than declared", n, part.Len(), part.StartOffset),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read part %d: %w", part.PartNo, err)
	}
	return data, nil
}

func (r *partReader) Close() error {
	return r.file.Close()
}

// partUploader sends the parts of a manifest, one at a time or with bounded
// parallelism.
type partUploader struct {
	api         PartAPI
	concurrency int
	logger      log.Logger
	stats       *Stats
}

func newPartUploader(api PartAPI, concurrency int, logger log.Logger) *partUploader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &partUploader{
		api:         api,
		concurrency: concurrency,
		logger:      logger,
		stats:       NewStats(),
	}
}

// Upload sends every part in manifest order. Results are returned in the same
// order regardless of concurrency.
func (u *partUploader) Upload(ctx context.Context, path, uploadURL string, parts []figshare.Part) ([]PartResult, error) {
	reader, err := openPartReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	if u.concurrency == 1 {
		return u.uploadSequential(ctx, reader, uploadURL, parts)
	}
	return u.uploadParallel(ctx, reader, uploadURL, parts)
}

func (u *partUploader) uploadSequential(ctx context.Context, reader *partReader, uploadURL string, parts []figshare.Part) ([]PartResult, error) {
	results := make([]PartResult, 0, len(parts))
	for _, part := range parts {
		result, err := u.uploadPart(ctx, reader, uploadURL, part)
		if err != nil {
			return nil, err
		}
		u.logPart(result)
		results = append(results, result)
	}
	return results, nil
}

func (u *partUploader) uploadParallel(ctx context.Context, reader *partReader, uploadURL string, parts []figshare.Part) ([]PartResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]PartResult, len(parts))
	errs := make([]error, len(parts))
	semaphore := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup

launch:
	for i, part := range parts {
		select {
		case <-ctx.Done():
			break launch
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(index int, part figshare.Part) {
			defer wg.Done()
			defer func() { <-semaphore }()

			result, err := u.uploadPart(ctx, reader, uploadURL, part)
			if err != nil {
				errs[index] = err
				cancel()
				return
			}
			results[index] = result
		}(i, part)
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled: %w", err)
	}

	for _, result := range results {
		u.logPart(result)
	}
	return results, nil
}

func (u *partUploader) uploadPart(ctx context.Context, reader *partReader, uploadURL string, part figshare.Part) (PartResult, error) {
	data, err := reader.Read(part)
	if err != nil {
		return PartResult{}, err
	}

	u.logger.Debugf("Uploading part %d (%d bytes) [finished=%d] [avg=%v]",
		part.PartNo, len(data), u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	start := time.Now()
	if err := u.api.UploadPart(ctx, uploadURL, part.PartNo, data); err != nil {
		return PartResult{}, fmt.Errorf("upload part %d: %w", part.PartNo, err)
	}
	took := time.Since(start)
	u.stats.Update(took, int64(len(data)))

	return PartResult{
		PartNo:      part.PartNo,
		StartOffset: part.StartOffset,
		EndOffset:   part.EndOffset,
		Duration:    took,
	}, nil
}

func (u *partUploader) logPart(result PartResult) {
	u.logger.Printf("  Uploaded part %d from %d to %d", result.PartNo, result.StartOffset, result.EndOffset)
}

// firstError prefers the error that caused the cancellation over the
// cancellation errors of the other parts.
func firstError(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}

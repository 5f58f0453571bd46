package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/figshare-uploader/figshare"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPartAPI struct {
	mu       sync.Mutex
	received map[int][]byte
	order    []int
	failOn   int
	failErr  error
}

func newRecordingPartAPI() *recordingPartAPI {
	return &recordingPartAPI{received: map[int][]byte{}}
}

func (a *recordingPartAPI) UploadPart(ctx context.Context, uploadURL string, partNo int, data []byte) error {
	if partNo == a.failOn {
		return a.failErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received[partNo] = append([]byte(nil), data...)
	a.order = append(a.order, partNo)
	return nil
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path, content
}

func evenParts(size, partSize int64) []figshare.Part {
	var parts []figshare.Part
	for start, no := int64(0), 1; start < size; start, no = start+partSize, no+1 {
		end := start + partSize - 1
		if end > size-1 {
			end = size - 1
		}
		parts = append(parts, figshare.Part{PartNo: no, StartOffset: start, EndOffset: end})
	}
	return parts
}

func TestPartUploader_SendsExactRanges(t *testing.T) {
	path, content := writeTestFile(t, 10)
	parts := []figshare.Part{
		{PartNo: 1, StartOffset: 0, EndOffset: 2},
		{PartNo: 2, StartOffset: 3, EndOffset: 3},
		{PartNo: 3, StartOffset: 4, EndOffset: 9},
	}
	api := newRecordingPartAPI()

	results, err := newPartUploader(api, 1, log.NewLogger()).Upload(context.Background(), path, "https://u/x", parts)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, api.order)
	for _, part := range parts {
		assert.Equal(t, content[part.StartOffset:part.EndOffset+1], api.received[part.PartNo])
	}
	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, parts[i].PartNo, result.PartNo)
		assert.Equal(t, parts[i].StartOffset, result.StartOffset)
		assert.Equal(t, parts[i].EndOffset, result.EndOffset)
	}
}

func TestPartUploader_ShortRead(t *testing.T) {
	path, _ := writeTestFile(t, 10)
	parts := []figshare.Part{
		{PartNo: 1, StartOffset: 0, EndOffset: 4},
		{PartNo: 2, StartOffset: 5, EndOffset: 11},
	}
	api := newRecordingPartAPI()

	_, err := newPartUploader(api, 1, log.NewLogger()).Upload(context.Background(), path, "https://u/x", parts)

	var integrityErr *figshare.IntegrityError
	require.True(t, errors.As(err, &integrityErr), "expected IntegrityError, got %v", err)
	assert.Equal(t, 2, integrityErr.PartNo)
	assert.Equal(t, []int{1}, api.order)
}

func TestPartUploader_Parallel(t *testing.T) {
	path, content := writeTestFile(t, 1000)
	parts := evenParts(1000, 64)
	api := newRecordingPartAPI()

	uploader := newPartUploader(api, 4, log.NewLogger())
	results, err := uploader.Upload(context.Background(), path, "https://u/x", parts)
	require.NoError(t, err)

	require.Len(t, results, len(parts))
	for i, part := range parts {
		assert.Equal(t, part.PartNo, results[i].PartNo)
		assert.Equal(t, content[part.StartOffset:part.EndOffset+1], api.received[part.PartNo])
	}
	assert.Equal(t, int64(len(parts)), uploader.stats.FinishedCount())
	assert.Equal(t, int64(1000), uploader.stats.Bytes())
}

func TestPartUploader_ParallelFailure(t *testing.T) {
	path, _ := writeTestFile(t, 1000)
	failErr := &figshare.HTTPError{Method: "PUT", URL: "https://u/x/3", StatusCode: 413, Body: []byte("too big")}
	api := newRecordingPartAPI()
	api.failOn = 3
	api.failErr = failErr

	_, err := newPartUploader(api, 3, log.NewLogger()).Upload(context.Background(), path, "https://u/x", evenParts(1000, 10))

	var httpErr *figshare.HTTPError
	require.True(t, errors.As(err, &httpErr), "expected HTTPError, got %v", err)
	assert.Equal(t, 413, httpErr.StatusCode)
}

func TestPartUploader_MissingFile(t *testing.T) {
	_, err := newPartUploader(newRecordingPartAPI(), 1, log.NewLogger()).Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "https://u/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFirstError(t *testing.T) {
	cause := errors.New("boom")
	cancelled := context.Canceled

	assert.NoError(t, firstError([]error{nil, nil}))
	assert.Equal(t, cause, firstError([]error{nil, cancelled, cause}))
	assert.Equal(t, cancelled, firstError([]error{nil, cancelled}))
}

func TestStats(t *testing.T) {
	stats := NewStats()

	assert.Equal(t, int64(0), stats.FinishedCount())
	assert.Equal(t, time.Duration(0), stats.Average())

	stats.Update(100*time.Millisecond, 10)
	stats.Update(200*time.Millisecond, 20)
	stats.Update(300*time.Millisecond, 30)

	assert.Equal(t, int64(3), stats.FinishedCount())
	assert.Equal(t, 200*time.Millisecond, stats.Average())
	assert.Equal(t, 600*time.Millisecond, stats.TotalDuration())
	assert.Equal(t, int64(60), stats.Bytes())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "START", StateStart.String())
	assert.Equal(t, "PARTS_MANIFEST_FETCHED", StatePartsManifestFetched.String())
	assert.Equal(t, "COMPLETED", StateCompleted.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

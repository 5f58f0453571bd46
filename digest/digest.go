// Package digest computes the md5 checksum and byte size the upload service
// expects for a file, without holding the file in memory.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
)

// ChunkSize is the block size used when streaming a file through the hash.
const ChunkSize = 1 << 20

// Result is the checksum data sent when initiating an upload.
type Result struct {
	MD5  string
	Size int64
	// Blocks is the number of non-empty blocks read.
	Blocks int
}

func (r Result) String() string {
	return fmt.Sprintf("md5=%s size=%s", r.MD5, units.HumanSizeWithPrecision(float64(r.Size), 3))
}

// File opens path and digests its content.
func File(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	res, err := Reader(f)
	if err != nil {
		return Result{}, fmt.Errorf("digest %s: %w", path, err)
	}
	return res, nil
}

// Reader digests r in ChunkSize blocks until EOF.
func Reader(r io.Reader) (Result, error) {
	hash := md5.New()
	buf := make([]byte, ChunkSize)
	var res Result

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			hash.Write(buf[:n]) //nolint:errcheck
			res.Size += int64(n)
			res.Blocks++
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read block %d: %w", res.Blocks+1, err)
		}
	}

	res.MD5 = hex.EncodeToString(hash.Sum(nil))
	return res, nil
}

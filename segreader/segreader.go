// Package segreader implements the upload-side Segment Reader/Length
// Wrapper (spec §4.3): a bounded reader over a file region or a caller
// stream that tracks bytes yielded and, optionally, a running MD5, so a
// segment (or an unsegmented object body) can be both streamed and
// verified in one pass, the way rclone's updateChunks in
// backend/swift/swift.go peeks one byte ahead to detect EOF while
// uploading a fixed-size chunk.
package segreader

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/relaypath/swiftengine/swifterr"
)

// Reader wraps a file region or a stream, yielding at most Size bytes
// and computing a running MD5 over bytes actually read when Checksum
// is true.
type Reader struct {
	r        io.Reader
	closer   io.Closer
	limit    int64
	remain   int64
	checksum bool
	hasher   hash.Hash
	length   int64
	done     bool
}

// Open wraps a file region: f opened at segmentStart for exactly
// segmentSize bytes. Reads past that limit are never returned, even if
// the file is longer.
func Open(f *os.File, segmentStart, segmentSize int64, checksum bool) (*Reader, error) {
	if _, err := f.Seek(segmentStart, io.SeekStart); err != nil {
		return nil, swifterr.New(swifterr.KindTransport, "open_segment", err)
	}
	r := &Reader{r: f, closer: f, limit: segmentSize, remain: segmentSize, checksum: checksum}
	if checksum {
		r.hasher = md5.New()
	}
	return r, nil
}

// Wrap wraps a caller-provided stream, yielding at most segmentSize
// bytes when segmentSize > 0; segmentSize <= 0 means "read until EOF"
// (used for unsegmented uploads, spec §4.5.3 step 6).
func Wrap(stream io.Reader, segmentSize int64, checksum bool) *Reader {
	r := &Reader{r: stream, limit: segmentSize, remain: segmentSize, checksum: checksum}
	if segmentSize <= 0 {
		r.remain = -1
	}
	if checksum {
		r.hasher = md5.New()
	}
	return r
}

// Read implements io.Reader, stopping at the segment boundary when one
// was given.
func (r *Reader) Read(p []byte) (int, error) {
	if r.remain == 0 {
		r.done = true
		return 0, io.EOF
	}
	if r.remain > 0 && int64(len(p)) > r.remain {
		p = p[:r.remain]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if r.checksum {
			r.hasher.Write(p[:n])
		}
		r.length += int64(n)
		if r.remain > 0 {
			r.remain -= int64(n)
		}
	}
	if err == io.EOF {
		r.done = true
	}
	return n, err
}

// Close releases the underlying file, if this Reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Length returns the number of bytes actually read so far. Meaningful
// once the consumer has finished reading.
func (r *Reader) Length() int64 { return r.length }

// MD5Hex returns the running MD5 in hex, or "" if Checksum was false.
func (r *Reader) MD5Hex() string {
	if r.hasher == nil {
		return ""
	}
	sum := r.hasher.Sum(nil)
	return hex.EncodeToString(sum)
}

// CheckETag compares the transport-reported etag against the computed
// MD5 and fails with a domain error whose message contains "md5
// mismatch" on a difference, a no-op when Checksum was false (spec
// §4.3).
func (r *Reader) CheckETag(etag string) error {
	if r.hasher == nil || etag == "" {
		return nil
	}
	computed := r.MD5Hex()
	if computed != etag {
		return swifterr.Newf(swifterr.KindIntegrity, "upload_segment", "md5 mismatch: server returned %q, computed %q", etag, computed)
	}
	return nil
}

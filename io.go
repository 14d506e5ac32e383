package cipherpack

import (
	"io"
	"os"

	"github.com/virusdefender/goutils"
)

// readChunked is the IO Driver's read side (spec.md §4.4): read chunkSize-
// byte chunks, invoking sink for every non-final chunk and exactly once
// more with isFinal=true on the last chunk that actually holds data (or on
// an empty chunk, for a zero-length input). Returns total bytes read.
//
// A plain "read until io.EOF" loop cannot identify the final chunk
// correctly: for an *os.File, the last real bytes are typically delivered
// by a Read call that returns a nil error, and only the following call
// (with zero bytes) reports io.EOF -- so the genuinely final chunk would be
// reported one call too early, which the AEAD engine's Finish (expecting
// the trailing tag to be in that call's buffer) depends on getting right.
// This keeps one chunk buffered and only emits it once a further read
// confirms no more data follows.
func readChunked(r io.Reader, chunkSize int, sink func(buf []byte, isFinal bool) error) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var total uint64

	readChunk := func() (chunk []byte, atEnd bool, err error) {
		buf := make([]byte, chunkSize)
		n, rerr := io.ReadFull(r, buf)
		if rerr == io.ErrUnexpectedEOF {
			rerr = nil
		}
		total += uint64(n)
		if rerr == io.EOF {
			return nil, true, nil
		}
		if rerr != nil {
			return nil, false, rerr
		}
		return buf[:n], false, nil
	}

	cur, curEnd, err := readChunk()
	if err != nil {
		return total, wrap(ErrShortRead, "read input", err)
	}
	for {
		if curEnd {
			return total, sink(cur, true)
		}
		next, nextEnd, err := readChunk()
		if err != nil {
			return total, wrap(ErrShortRead, "read input", err)
		}
		if nextEnd {
			return total, sink(cur, true)
		}
		if err := sink(cur, false); err != nil {
			return total, err
		}
		cur = next
	}
}

// countingWriter is the IO Driver's write side: wraps an output sink with
// byte accounting, used by the Encrypt Pipeline to verify header_bytes +
// payload_bytes == sink.tell() (spec.md §4.6 step 10); the Decrypt Pipeline
// only logs the count.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	if err != nil {
		return n, wrap(ErrOutputWrite, "write output", err)
	}
	return n, nil
}

// openOutput opens path for writing, refusing to overwrite an existing
// file unless overwrite is set -- spec.md §4.6/§4.7 step 1, and the
// teacher's CLI-level existence checks (goutils.FileExists) generalized
// into the pipeline itself.
func openOutput(path string, overwrite bool) (*os.File, error) {
	if !overwrite && goutils.FileExists(path) {
		return nil, wrap(ErrOutputExists, path, nil)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, wrap(ErrOutputOpen, path, err)
	}
	return f, nil
}

// removeOnFailure implements the "every pipeline wraps its output sink
// such that any error path removes the partially written output file
// before returning" contract of spec.md §4.4. Call it via a defer with a
// pointer to a failure flag that the caller clears only on success.
func removeOnFailure(f *os.File, path string, failed *bool) {
	f.Close()
	if *failed {
		os.Remove(path)
	}
}

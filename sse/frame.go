// Package sse implements record framing for server-pushed event streams.
//
// The transport delivers chunked text where record boundaries never align
// with chunk boundaries. FrameReader accumulates raw bytes and emits one
// string per complete record, so a multi-byte rune split across two
// chunks is reassembled before any text-level processing sees it.
package sse

import (
	"bytes"
	"strings"
)

// Record separators. Proxies normalize line endings inconsistently, so
// both forms appear in the wild, sometimes within a single stream.
var (
	sepLF   = []byte("\n\n")
	sepCRLF = []byte("\r\n\r\n")
)

// MaxBufferSize caps the unframed remainder (4 MiB). A stream that emits
// this much text without a record boundary is malformed.
const MaxBufferSize = 4 * 1024 * 1024

// FrameReader splits a chunked byte stream into records. Buffering is
// byte-level: a separator or rune split across chunk boundaries is
// detected once the following chunk arrives.
//
// Not safe for concurrent use; each stream session owns one reader.
type FrameReader struct {
	buf []byte
}

// NewFrameReader creates an empty frame reader.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends a chunk and returns every record completed by it, in
// arrival order. Blank records (keep-alive heartbeats) are dropped.
// Feeding an empty chunk is a no-op.
func (r *FrameReader) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	var records []string
	for {
		record, rest, ok := cutRecord(r.buf)
		if !ok {
			break
		}
		r.buf = rest
		if text := string(record); strings.TrimSpace(text) != "" {
			records = append(records, text)
		}
	}
	return records
}

// Flush returns the unterminated remainder, if any. Called once at end
// of stream: servers routinely omit the final separator, and the last
// record would otherwise be lost. Resets the reader.
func (r *FrameReader) Flush() (string, bool) {
	text := string(r.buf)
	r.buf = nil
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// Overflow reports whether the buffered remainder exceeds MaxBufferSize.
func (r *FrameReader) Overflow() bool {
	return len(r.buf) > MaxBufferSize
}

// cutRecord slices buf at the earliest record separator. When both
// separator forms appear, the one occurring first wins; ties cannot
// happen because the two byte patterns never start at the same offset.
func cutRecord(buf []byte) (record, rest []byte, ok bool) {
	iLF := bytes.Index(buf, sepLF)
	iCRLF := bytes.Index(buf, sepCRLF)

	switch {
	case iLF < 0 && iCRLF < 0:
		return nil, buf, false
	case iCRLF >= 0 && (iLF < 0 || iCRLF < iLF):
		return buf[:iCRLF], buf[iCRLF+len(sepCRLF):], true
	default:
		return buf[:iLF], buf[iLF+len(sepLF):], true
	}
}

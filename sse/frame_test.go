package sse

import (
	"strings"
	"testing"
)

func TestFrameReader_SingleChunk(t *testing.T) {
	r := NewFrameReader()

	records := r.Feed([]byte("event: scan\ndata: {\"id\":\"s1\"}\n\n"))
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0] != "event: scan\ndata: {\"id\":\"s1\"}" {
		t.Errorf("record = %q", records[0])
	}
}

func TestFrameReader_MultipleRecordsOneChunk(t *testing.T) {
	r := NewFrameReader()

	records := r.Feed([]byte("first\n\nsecond\n\nthird\n\n"))
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i, want := range []string{"first", "second", "third"} {
		if records[i] != want {
			t.Errorf("records[%d] = %q, want %q", i, records[i], want)
		}
	}
}

func TestFrameReader_RecordSplitAcrossChunks(t *testing.T) {
	// One record delivered in five arbitrary slices, the separator
	// itself split between the last two.
	record := "event: analysis\ndata: {\"overall_match\":\"matched\"}"
	wire := record + "\n\n"
	chunks := [][]byte{
		[]byte(wire[:7]),
		[]byte(wire[7:8]),
		[]byte(wire[8:30]),
		[]byte(wire[30 : len(wire)-1]),
		[]byte(wire[len(wire)-1:]),
	}

	r := NewFrameReader()
	var records []string
	for _, c := range chunks {
		records = append(records, r.Feed(c)...)
	}

	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0] != record {
		t.Errorf("record = %q, want %q", records[0], record)
	}
}

func TestFrameReader_CRLFSeparators(t *testing.T) {
	r := NewFrameReader()

	records := r.Feed([]byte("first\r\n\r\nsecond\r\n\r\n"))
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0] != "first" || records[1] != "second" {
		t.Errorf("records = %q", records)
	}
}

func TestFrameReader_MixedSeparators(t *testing.T) {
	r := NewFrameReader()

	records := r.Feed([]byte("first\n\nsecond\r\n\r\nthird\n\n"))
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[1] != "second" {
		t.Errorf("records[1] = %q, want second", records[1])
	}
}

func TestFrameReader_MultiByteRuneSplit(t *testing.T) {
	// "é" is 0xC3 0xA9; split between the two bytes.
	wire := []byte("data: caf\xc3\xa9\n\n")
	cut := 10 // inside the rune

	r := NewFrameReader()
	records := r.Feed(wire[:cut])
	if len(records) != 0 {
		t.Fatalf("partial rune produced %d records, want 0", len(records))
	}
	records = r.Feed(wire[cut:])
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0] != "data: café" {
		t.Errorf("record = %q, want %q", records[0], "data: café")
	}
}

func TestFrameReader_BlankRecordsDropped(t *testing.T) {
	r := NewFrameReader()

	records := r.Feed([]byte("\n\n  \n\nreal\n\n\n\n"))
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0] != "real" {
		t.Errorf("record = %q, want real", records[0])
	}
}

func TestFrameReader_Flush(t *testing.T) {
	r := NewFrameReader()

	r.Feed([]byte("complete\n\ntrailing without separator"))
	text, ok := r.Flush()
	if !ok {
		t.Fatal("Flush() ok = false, want true")
	}
	if text != "trailing without separator" {
		t.Errorf("Flush() = %q", text)
	}

	// Flush resets the reader.
	if _, ok := r.Flush(); ok {
		t.Error("second Flush() should report nothing buffered")
	}
}

func TestFrameReader_FlushWhitespaceOnly(t *testing.T) {
	r := NewFrameReader()

	r.Feed([]byte("record\n\n \r\n "))
	if text, ok := r.Flush(); ok {
		t.Errorf("whitespace remainder flushed as %q, want none", text)
	}
}

func TestFrameReader_EmptyChunk(t *testing.T) {
	r := NewFrameReader()

	if records := r.Feed(nil); records != nil {
		t.Errorf("Feed(nil) = %v, want nil", records)
	}
	if records := r.Feed([]byte{}); records != nil {
		t.Errorf("Feed(empty) = %v, want nil", records)
	}
}

func TestFrameReader_Overflow(t *testing.T) {
	r := NewFrameReader()

	r.Feed([]byte(strings.Repeat("x", MaxBufferSize+1)))
	if !r.Overflow() {
		t.Error("Overflow() = false after exceeding MaxBufferSize")
	}

	r.Flush()
	if r.Overflow() {
		t.Error("Overflow() = true after Flush")
	}
}

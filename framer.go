package luminary

import "bytes"

// splitLines splits an accumulated NDJSON buffer into complete records.
//
// Records are separated by "\n" or "\r\n". Blank lines are dropped and every
// record is trimmed. When final is false the last segment is always held back
// as the remainder, regardless of content, because more bytes may still arrive
// for it. When final is true (the stream has ended) the trailing segment is
// emitted if non-blank and the remainder is empty.
//
// splitLines is pure: no I/O, no hidden state. The read loop drives it through
// lineFramer, which owns the carry-over remainder between chunks.
func splitLines(buf []byte, final bool) (lines [][]byte, rest []byte) {
	segments := bytes.Split(buf, []byte{'\n'})
	if !final {
		rest = append([]byte(nil), segments[len(segments)-1]...)
		segments = segments[:len(segments)-1]
	}
	for _, seg := range segments {
		seg = bytes.TrimSpace(seg)
		if len(seg) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), seg...))
	}
	return lines, rest
}

// lineFramer carries the unconsumed tail of the byte stream between reads.
// Buffering at the byte level means UTF-8 sequences split across network
// chunks reassemble for free: a partial codepoint simply sits in rest until
// the chunk completing its line arrives.
type lineFramer struct {
	rest []byte
}

// feed appends one network chunk and returns the complete records it unlocked.
func (f *lineFramer) feed(chunk []byte) [][]byte {
	buf := append(f.rest, chunk...)
	lines, rest := splitLines(buf, false)
	f.rest = rest
	return lines
}

// flush drains the unterminated trailing record, if any. Called exactly once,
// at end of stream.
func (f *lineFramer) flush() [][]byte {
	lines, _ := splitLines(f.rest, true)
	f.rest = nil
	return lines
}

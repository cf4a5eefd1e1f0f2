package proc

import "time"

// echoStripper elides the first occurrence of the injected prompt from PTY
// output. Worker CLIs echo their stdin, so without suppression the prompt
// text would appear verbatim at the top of every output log.
//
// Matching is byte-by-byte with a pending buffer: bytes that extend the
// expected echo are held back, and the whole run is flushed to the output
// on the first mismatch. CR/LF inside a run are held too, because the
// terminal wraps long echoed lines. After the deadline the attempt is
// abandoned and output flows unmodified.
type echoStripper struct {
	expected []byte
	pos      int
	pending  []byte
	deadline time.Time
	done     bool
	// eatNewline swallows the CR/LF the terminal appends to the echoed
	// prompt, right after a full match.
	eatNewline bool
}

// newEchoStripper creates a stripper for one prompt. The timeout starts
// when the prompt is injected, not at construction.
func newEchoStripper(prompt string, timeout time.Duration) *echoStripper {
	if prompt == "" {
		return &echoStripper{done: true}
	}
	return &echoStripper{
		expected: []byte(prompt),
		deadline: time.Now().Add(timeout),
	}
}

// process filters a chunk of PTY output, returning the bytes that should
// reach the log.
func (e *echoStripper) process(chunk []byte) []byte {
	if e.done {
		return e.passThrough(chunk)
	}
	if time.Now().After(e.deadline) {
		e.done = true
		out := e.pending
		e.pending = nil
		return append(out, chunk...)
	}

	out := make([]byte, 0, len(chunk))
	for _, b := range chunk {
		if e.done {
			if e.eatNewline && (b == '\r' || b == '\n') {
				continue
			}
			e.eatNewline = false
			out = append(out, b)
			continue
		}

		if b == e.expected[e.pos] {
			e.pending = append(e.pending, b)
			e.pos++
			if e.pos == len(e.expected) {
				// Full echo consumed; drop it.
				e.pending = nil
				e.done = true
				e.eatNewline = true
			}
			continue
		}
		// The terminal wraps long echoed lines; hold wrap bytes without
		// advancing the match.
		if (b == '\r' || b == '\n') && e.pos > 0 {
			e.pending = append(e.pending, b)
			continue
		}

		// Mismatch: what looked like the echo was real output.
		if e.pos > 0 {
			out = append(out, e.pending...)
			e.pending = nil
			e.pos = 0
			if b == e.expected[0] {
				e.pending = append(e.pending, b)
				e.pos = 1
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// passThrough handles output after suppression finished, swallowing the
// newline trailing the echoed prompt.
func (e *echoStripper) passThrough(chunk []byte) []byte {
	if !e.eatNewline {
		return chunk
	}
	out := make([]byte, 0, len(chunk))
	for _, b := range chunk {
		if e.eatNewline && (b == '\r' || b == '\n') {
			continue
		}
		e.eatNewline = false
		out = append(out, b)
	}
	return out
}

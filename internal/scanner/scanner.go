package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Marker is the substring that identifies a record-like line
const Marker = `{"hex":`

// State represents the scanner's position in the fragment state machine
type State int

const (
	// StateBuffering accumulates characters of a line that has not shown the marker yet
	StateBuffering State = iota
	// StateMarkerFound accumulates characters of a line that already contains the marker
	StateMarkerFound
	// StateDone is reached once the underlying stream is exhausted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateBuffering:
		return "buffering"
	case StateMarkerFound:
		return "marker-found"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Verdict is the decision taken for a buffer terminated by a newline
type Verdict int

const (
	Discard Verdict = iota
	Emit
)

// Fragment is a newline-terminated span believed to hold one JSON object
type Fragment struct {
	Text string
	Line int
}

// Stats counts what the scanner has seen so far
type Stats struct {
	Lines     uint64
	Fragments uint64
	Discarded uint64
}

// Scanner splits a character stream into record fragments.
//
// It is a heuristic boundary detector for the upstream pseudo-array format
// (one object per line, trailing comma, no enclosing brackets). A string value
// containing a literal newline splits its record in two; neither half is
// repaired.
type Scanner struct {
	r     *bufio.Reader
	buf   bytes.Buffer
	state State
	line  int
	stats Stats
	err   error
}

// New creates a Scanner reading from r
func New(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Classify decides whether a newline-terminated buffer is a record fragment
func Classify(buf string) Verdict {
	if strings.Contains(buf, Marker) {
		return Emit
	}
	return Discard
}

// Next returns the next fragment, or false once the stream is exhausted.
// Trailing text without a final newline is never returned.
func (s *Scanner) Next() (Fragment, bool) {
	for s.state != StateDone {
		c, err := s.r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("failed to read stream: %w", err)
			}
			s.state = StateDone
			s.buf.Reset()
			return Fragment{}, false
		}

		s.buf.WriteByte(c)
		if s.state == StateBuffering && c == Marker[len(Marker)-1] && bytes.HasSuffix(s.buf.Bytes(), []byte(Marker)) {
			s.state = StateMarkerFound
		}

		if c != '\n' {
			continue
		}

		s.line++
		s.stats.Lines++
		found := s.state == StateMarkerFound
		text := s.buf.String()
		s.buf.Reset()
		s.state = StateBuffering

		if !found {
			s.stats.Discarded++
			continue
		}
		s.stats.Fragments++
		return Fragment{Text: text, Line: s.line}, true
	}
	return Fragment{}, false
}

// State returns the current state of the scanner
func (s *Scanner) State() State {
	return s.state
}

// Stats returns a copy of the scanner counters
func (s *Scanner) Stats() Stats {
	return s.stats
}

// Err returns the first non-EOF read error, if any
func (s *Scanner) Err() error {
	return s.err
}

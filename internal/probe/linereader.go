package probe

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"unicode/utf8"
)

// MaxLines is how many lines of a page are ever looked at.
const MaxLines = 1024

// maxLineBytes bounds a single line. Longer runs are yielded in pieces.
const maxLineBytes = 64 << 10

// ErrInvalidText is yielded once when a line is not valid UTF-8.
var ErrInvalidText = errors.New("line is not valid utf-8")

// LineReader turns a response body into a bounded sequence of lines.
// It is not restartable: ranging over Lines twice continues where the first
// loop stopped.
type LineReader struct {
	r        *bufio.Reader
	maxLines int
	read     int
	done     bool
	// carry holds the leading bytes of a rune split by a buffer-full read.
	carry []byte
}

func NewLineReader(r io.Reader, maxLines int) *LineReader {
	if maxLines <= 0 {
		maxLines = MaxLines
	}
	return &LineReader{r: bufio.NewReaderSize(r, maxLineBytes), maxLines: maxLines}
}

// Lines yields each line including its trailing newline. A read error other
// than EOF and invalid UTF-8 are yielded once as an error, then the sequence ends.
func (lr *LineReader) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for !lr.done && lr.read < lr.maxLines {
			chunk, err := lr.r.ReadSlice('\n')
			split := errors.Is(err, bufio.ErrBufferFull)
			if split {
				err = nil
			}
			line := chunk
			if len(lr.carry) > 0 {
				line = append(lr.carry, chunk...)
				lr.carry = nil
			}
			if split {
				if n := partialRune(line); n > 0 {
					lr.carry = append([]byte(nil), line[len(line)-n:]...)
					line = line[:len(line)-n]
				}
			}
			if len(line) > 0 {
				lr.read++
				if !utf8.Valid(line) {
					lr.done = true
					yield("", ErrInvalidText)
					return
				}
				if !yield(string(line), nil) {
					return
				}
			}
			if err != nil {
				lr.done = true
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
		}
	}
}

// partialRune reports how many trailing bytes of b start a rune that is not
// complete yet.
func partialRune(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// Count returns how many lines were consumed so far.
func (lr *LineReader) Count() int { return lr.read }

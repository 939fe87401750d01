package driver

import (
	"io"
)

// Source feeds an input port. Rewind restarts the stream after EOF.
type Source interface {
	io.Reader
	Rewind() error
}

type readerSource struct {
	r io.ReadSeeker
}

// NewReaderSource wraps a seekable stream such as an *os.File.
func NewReaderSource(r io.ReadSeeker) Source {
	return &readerSource{r: r}
}

func (s *readerSource) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *readerSource) Rewind() error {
	_, err := s.r.Seek(0, io.SeekStart)
	return err
}

// patternSource produces a repeating byte ramp. A negative total never ends.
type patternSource struct {
	total int64
	pos   int64
}

// NewPatternSource returns total bytes of synthetic data, or an endless
// stream when total is negative.
func NewPatternSource(total int64) Source {
	return &patternSource{total: total}
}

func (s *patternSource) Read(p []byte) (int, error) {
	if s.total >= 0 && s.pos >= s.total {
		return 0, io.EOF
	}
	n := len(p)
	if s.total >= 0 && int64(n) > s.total-s.pos {
		n = int(s.total - s.pos)
	}
	for i := 0; i < n; i++ {
		p[i] = byte(s.pos + int64(i))
	}
	s.pos += int64(n)
	return n, nil
}

func (s *patternSource) Rewind() error {
	s.pos = 0
	return nil
}

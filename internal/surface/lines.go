package surface

import (
	"bufio"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Lines reads an input stream once for the whole process and hands each
// line to whichever Terminal is waiting. A line nobody is waiting for stays
// pending until the next login picks it up.
type Lines struct {
	in   io.Reader
	once sync.Once
	ch   chan string
	eof  chan struct{}
	err  error
}

func NewLines(in io.Reader) *Lines {
	if in == nil {
		in = os.Stdin
	}
	return &Lines{in: in, ch: make(chan string), eof: make(chan struct{})}
}

func (l *Lines) start() {
	l.once.Do(func() { go l.run() })
}

func (l *Lines) run() {
	sc := bufio.NewScanner(l.in)
	for sc.Scan() {
		l.ch <- sc.Text()
	}
	l.err = sc.Err()
	close(l.eof)
}

// Err is the read error that ended the stream, if any. Valid once EOF has
// been observed.
func (l *Lines) Err() error {
	select {
	case <-l.eof:
		return l.err
	default:
		return nil
	}
}

// Interactive reports whether the stream is a terminal.
func (l *Lines) Interactive() bool {
	f, ok := l.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

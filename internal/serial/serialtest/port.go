// Package serialtest provides an in-memory serial port for tests.
package serialtest

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// Port is a scripted serial port. Lines fed with Feed are returned by Read;
// everything written is recorded. Read blocks up to the read timeout and then
// returns (0, nil), like a real port does.
type Port struct {
	mu       sync.Mutex
	cond     *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer
	timeout  time.Duration
	closed   bool
	WriteErr error

	// OnWrite, when set, is called with every written line (without newline).
	// It runs without the port lock held, so it may call Feed.
	OnWrite func(line string)
}

// New returns an open port.
func New() *Port {
	p := &Port{timeout: time.Second}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues raw device output.
func (p *Port) Feed(s string) {
	p.mu.Lock()
	p.in.WriteString(s)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FeedLine queues one line and appends the newline.
func (p *Port) FeedLine(s string) {
	p.Feed(s + "\n")
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.timeout)
	for p.in.Len() == 0 && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		t := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		t.Stop()
	}
	if p.closed {
		return 0, io.EOF
	}
	return p.in.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if p.WriteErr != nil {
		err := p.WriteErr
		p.mu.Unlock()
		return 0, err
	}
	p.out.Write(b)
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
			hook(line)
		}
	}
	return len(b), nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// Written returns every line written so far.
func (p *Port) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.TrimRight(p.out.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Package sequencer runs the exclusive reactor sequences. At most one of them
// holds the gate at any time; a launch that finds the gate taken is skipped,
// never queued.
package sequencer

import (
	"context"
	"sync"

	"bioreactor-controller/internal/logger"
)

// Kind names an exclusive sequence.
type Kind string

const (
	OD       Kind = "od"
	Dilution Kind = "dilution"
	Aeration Kind = "aeration"
)

// Gate is a non-blocking single-flight lock.
type Gate struct {
	mu    sync.Mutex
	owner Kind
	held  bool
}

// TryAcquire takes the gate for k if it is free.
func (g *Gate) TryAcquire(k Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	g.owner = k
	return true
}

// Release frees the gate.
func (g *Gate) Release() {
	g.mu.Lock()
	g.held = false
	g.owner = ""
	g.mu.Unlock()
}

// Owner returns the kind holding the gate.
func (g *Gate) Owner() (Kind, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, g.held
}

// Observer is told about launches and skips.
type Observer interface {
	SequenceStarted(k Kind)
	SequenceSkipped(k Kind)
	SequenceFinished(k Kind)
}

// Supervisor launches sequences behind the gate and tracks their lifecycle.
type Supervisor struct {
	gate   Gate
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  map[Kind]bool
	observer Observer
}

// NewSupervisor returns a supervisor whose sequences are cancelled by Shutdown
// or when parent is done.
func NewSupervisor(parent context.Context, obs Observer) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[Kind]bool),
		observer: obs,
	}
}

// Launch tries to take the gate for k and, on success, runs fn in its own
// goroutine. It never blocks. The gate is released when fn returns, even if it
// panics.
func (s *Supervisor) Launch(k Kind, fn func(ctx context.Context)) bool {
	// s.mu orders wg.Add against Shutdown's cancel so Wait never races an Add.
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		logger.Warn("%s sequence not started: shutting down.", k)
		return false
	}
	if !s.gate.TryAcquire(k) {
		s.mu.Unlock()
		owner, _ := s.gate.Owner()
		logger.Info("%s sequence skipped: %s sequence is running.", k, owner)
		if s.observer != nil {
			s.observer.SequenceSkipped(k)
		}
		return false
	}
	s.running[k] = true
	s.wg.Add(1)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SequenceStarted(k)
	}

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, k)
			s.mu.Unlock()
			s.gate.Release()
			if s.observer != nil {
				s.observer.SequenceFinished(k)
			}
			if r := recover(); r != nil {
				logger.Error("%s sequence panicked: %v", k, r)
			}
		}()
		fn(s.ctx)
	}()
	return true
}

// Running reports whether a sequence of kind k is in progress.
func (s *Supervisor) Running(k Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[k]
}

// Busy returns the kind currently holding the gate.
func (s *Supervisor) Busy() (Kind, bool) {
	return s.gate.Owner()
}

// Wait blocks until every launched sequence has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running sequences and waits for them to finish their cleanup.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

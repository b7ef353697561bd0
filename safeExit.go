package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var SafeExitInst *SafeExit

// InitSafeExit installs the signal listener. The first signal cancels the
// root context so running jobs wind down; a second one runs the cleanups
// and exits at once.
func InitSafeExit() {
	SafeExitInst = NewSafeExit(context.Background())
	go SafeExitInst.ListenSignal()
}

type SafeExit struct {
	ctx    context.Context
	cancel context.CancelFunc
	funcs  []func()
	mu     sync.Mutex
	done   bool
}

func NewSafeExit(parent context.Context) *SafeExit {
	ctx, cancel := context.WithCancel(parent)
	return &SafeExit{ctx: ctx, cancel: cancel}
}

// Context is canceled on the first signal.
func (s *SafeExit) Context() context.Context {
	return s.ctx
}

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Cleanup runs the registered funcs once, last registered first.
func (s *SafeExit) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.cancel()
	for i := len(s.funcs) - 1; i >= 0; i-- {
		s.funcs[i]()
	}
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	for sig := range sigs {
		if s.ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "received signal %s, stopping jobs, please wait\n", sig)
			s.cancel()
			continue
		}
		fmt.Fprintf(os.Stderr, "received signal %s again, exiting\n", sig)
		s.Cleanup()
		os.Exit(1)
	}
}

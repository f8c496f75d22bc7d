// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an animated waiting indicator shown while a completion
// request is in flight. In machine mode it prints the message once.
type Spinner struct {
	message string
	writer  io.Writer
	level   PersonalityLevel
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSpinner creates a spinner writing to stdout.
func NewSpinner(message string) *Spinner {
	return NewSpinnerWithWriter(message, os.Stdout)
}

// NewSpinnerWithWriter creates a spinner with an explicit writer, using
// the current personality level.
func NewSpinnerWithWriter(message string, w io.Writer) *Spinner {
	return NewSpinnerForLevel(message, w, GetLevel())
}

// NewSpinnerForLevel creates a spinner with an explicit writer and level.
// Spinners are single-use: one Start/Stop cycle each.
func NewSpinnerForLevel(message string, w io.Writer, level PersonalityLevel) *Spinner {
	return &Spinner{
		message: message,
		writer:  w,
		level:   level,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. Calling Start twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.level == PersonalityMachine {
		fmt.Fprintf(s.writer, "PROGRESS: %s\n", s.message)
		return
	}

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-s.stop:
				fmt.Fprint(s.writer, "\r\033[K")
				close(s.done)
				return
			case <-ticker.C:
				s.mu.Lock()
				message := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.writer, "\r%s %s", Styles.Citation.Render(spinnerFrames[frame]), message)
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
}

// UpdateMessage swaps the message while the spinner runs.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.level == PersonalityMachine {
		return
	}
	close(s.stop)
	<-s.done
}

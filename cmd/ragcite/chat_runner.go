// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// This file defines the ChatRunner and InputReader contracts plus the
// stdin, interactive, and mock reader implementations.
//
// Architecture:
//
//	cmd_chat.go → ChatRunner → AgentChatRunner (agent_runner.go)
//	                           ↓
//	                           conversation.Conversation
//	                           InputReader (stdin abstraction)
//	                           ux.ChatUI / ux.PlanRenderer
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner runs an interactive chat session until exit, EOF, fatal
// error, or context cancellation.
//
// # Description
//
// Run blocks for the life of the session. Normal exit (user types "exit")
// returns nil; cancellation returns the context error. Callers must call
// Close when done, typically via defer.
//
// # Limitations
//
//   - Runners are single-use; Run cannot be called again after it returns
//
// # Assumptions
//
//   - Caller installs signal handling and cancels the context on SIGINT
type ChatRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts line-oriented user input so tests can script a
// session without a terminal.
//
// ReadLine blocks until a line is available and returns it trimmed.
// io.EOF signals exhausted input.
type InputReader interface {
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own
// prompt. The runner checks for it to avoid double-prompting.
type PromptingInputReader interface {
	InputReader
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader
// =============================================================================

// StdinReader reads lines from os.Stdin. Used for piped input and as the
// non-TTY fallback of the interactive reader. Not safe for concurrent use.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

// ReadLine reads until newline and returns the trimmed line. Returns
// io.EOF when stdin closes.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader
// =============================================================================

// InteractiveInputReader provides line editing and up-arrow history via
// bubbletea. Falls back to StdinReader when stdin is not a TTY (piped
// input, CI). History is in-memory only.
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// NewInteractiveInputReader creates an interactive reader keeping up to
// maxHistory entries, or a StdinReader when stdin is not a terminal.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ",
	}
}

// SetPrompt implements PromptingInputReader.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine runs one bubbletea input round.
//
// Enter submits, Ctrl+C clears the current line, Ctrl+D on an empty line
// returns io.EOF. Non-empty submissions are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	model := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	finalModel, err := program.Run()
	if err != nil {
		return "", err
	}
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model for one input round.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string
	done         bool
	cancelled    bool
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// MockInputReader
// =============================================================================

// MockInputReader returns predetermined inputs in order, then io.EOF.
// Single-threaded test use only.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a reader that replays inputs.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{inputs: inputs}
}

// ReadLine returns the next scripted input, io.EOF once exhausted.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Command Parsing Helpers
// =============================================================================

// isExitCommand reports whether input ends the session. Case-sensitive;
// input must already be trimmed.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}

// parseRefCommand parses "/ref <n>" and returns the 1-based citation
// number. ok is false for any other input.
func parseRefCommand(input string) (n int, ok bool) {
	rest, found := strings.CutPrefix(input, "/ref")
	if !found {
		return 0, false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

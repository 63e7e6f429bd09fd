// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// stderrTailLines is how many stderr lines a stdio session keeps.
const stderrTailLines = 200

// StderrTail is a fixed-size ring of the last lines a stdio server wrote to
// stderr. The pipe must be drained or a chatty server blocks on write.
type StderrTail struct {
	mu    sync.RWMutex
	lines []string
	head  int
	count int
}

// NewStderrTail creates a tail holding at most capacity lines.
func NewStderrTail(capacity int) *StderrTail {
	if capacity <= 0 {
		capacity = stderrTailLines
	}
	return &StderrTail{lines: make([]string, capacity)}
}

// Add appends a line, evicting the oldest when full.
func (t *StderrTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(t.lines)
	t.lines[(t.head+t.count)%size] = line
	if t.count < size {
		t.count++
	} else {
		t.head = (t.head + 1) % size
	}
}

// Last returns up to n of the newest lines, oldest first.
func (t *StderrTail) Last(n int) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n > t.count || n <= 0 {
		n = t.count
	}
	out := make([]string, n)
	start := t.count - n
	for i := range out {
		out[i] = t.lines[(t.head+start+i)%len(t.lines)]
	}
	return out
}

// Drain copies r into the tail line by line until EOF, logging each line
// at debug level.
func (t *StderrTail) Drain(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		t.Add(line)
		logger.Debug("server stderr", slog.String("line", line))
	}
}

// summary joins the newest n lines for an error message.
func (t *StderrTail) summary(n int) string {
	return strings.Join(t.Last(n), " | ")
}

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

package engine

import (
	"context"
	"log/slog"

	lfsm "github.com/looplab/fsm"

	"github.com/tombee/ensemble/internal/log"
)

// State is a state of the tool-call loop for one query.
type State string

const (
	StateAwaitingModel       State = "awaiting_model"
	StateProcessingToolCalls State = "processing_tool_calls"
	StateDone                State = "done"
)

// Loop events.
const (
	eventToolUse      = "tool_use"
	eventResultsReady = "results_ready"
	eventFinal        = "final"
	eventTruncate     = "truncate"
)

// loop tracks one query's progress through the tool-call state machine.
// A new loop is created per query; StateDone is terminal.
type loop struct {
	fsm   *lfsm.FSM
	trace []State
}

func newLoop(logger *slog.Logger) *loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &loop{trace: []State{StateAwaitingModel}}
	l.fsm = lfsm.NewFSM(
		string(StateAwaitingModel),
		lfsm.Events{
			{Name: eventToolUse, Src: []string{string(StateAwaitingModel)}, Dst: string(StateProcessingToolCalls)},
			{Name: eventResultsReady, Src: []string{string(StateProcessingToolCalls)}, Dst: string(StateAwaitingModel)},
			{Name: eventFinal, Src: []string{string(StateAwaitingModel)}, Dst: string(StateDone)},
			{Name: eventTruncate, Src: []string{string(StateProcessingToolCalls)}, Dst: string(StateDone)},
		},
		lfsm.Callbacks{
			"enter_state": func(_ context.Context, e *lfsm.Event) {
				l.trace = append(l.trace, State(e.Dst))
				log.Trace(logger, "loop transition",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
	return l
}

// fire applies event; an invalid event for the current state is a bug.
func (l *loop) fire(ctx context.Context, event string) error {
	return l.fsm.Event(ctx, event)
}

func (l *loop) state() State {
	return State(l.fsm.Current())
}

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
	"fmt"

	"github.com/google/uuid"

	"github.com/tombee/ensemble/pkg/llm"
)

// Conversation is the ordered list of turns exchanged with the model.
// Only the Engine appends to it; it is cleared only on request.
type Conversation struct {
	ID       string
	messages []llm.Message
}

func newConversation() *Conversation {
	return &Conversation{ID: uuid.NewString()}
}

// Messages returns a copy of the turns.
func (c *Conversation) Messages() []llm.Message {
	return append([]llm.Message(nil), c.messages...)
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.messages)
}

func (c *Conversation) appendUser(text string) {
	c.messages = append(c.messages, llm.Message{Role: llm.MessageRoleUser, Content: text})
}

func (c *Conversation) appendAssistant(text string, calls []llm.ToolCall) {
	c.messages = append(c.messages, llm.Message{
		Role:      llm.MessageRoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
}

func (c *Conversation) appendToolResult(callID, toolName, content string, isError bool) {
	c.messages = append(c.messages, llm.Message{
		Role:       llm.MessageRoleTool,
		ToolCallID: callID,
		Name:       toolName,
		Content:    content,
		IsError:    isError,
	})
}

func (c *Conversation) clone() *Conversation {
	return &Conversation{ID: c.ID, messages: c.Messages()}
}

// Validate checks that every tool result answers exactly one unanswered
// tool call of the assistant turn immediately before the run of results,
// and that every call has been answered before the next non-result turn.
func (c *Conversation) Validate() error {
	var pending map[string]bool

	closeRun := func(at int) error {
		for id, open := range pending {
			if open {
				return fmt.Errorf("turn %d: tool call %s was never answered", at, id)
			}
		}
		pending = nil
		return nil
	}

	for i, m := range c.messages {
		switch m.Role {
		case llm.MessageRoleTool:
			if pending == nil {
				return fmt.Errorf("turn %d: tool result %s does not follow an assistant tool call", i, m.ToolCallID)
			}
			open, ok := pending[m.ToolCallID]
			if !ok {
				return fmt.Errorf("turn %d: tool result %s answers no call in the preceding assistant turn", i, m.ToolCallID)
			}
			if !open {
				return fmt.Errorf("turn %d: tool call %s answered twice", i, m.ToolCallID)
			}
			pending[m.ToolCallID] = false

		case llm.MessageRoleAssistant:
			if err := closeRun(i); err != nil {
				return err
			}
			if len(m.ToolCalls) > 0 {
				pending = make(map[string]bool, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					if _, dup := pending[tc.ID]; dup {
						return fmt.Errorf("turn %d: duplicate tool call id %s", i, tc.ID)
					}
					pending[tc.ID] = true
				}
			}

		default:
			if err := closeRun(i); err != nil {
				return err
			}
		}
	}
	return closeRun(len(c.messages))
}

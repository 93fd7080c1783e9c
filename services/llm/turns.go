// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the speaker of a turn on the wire.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "assistant"
)

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// TurnKind distinguishes the three turn shapes of a conversation.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnAgent      TurnKind = "agent"
	TurnToolResult TurnKind = "tool_result"
)

// ToolUse is a tool invocation issued by the agent. It is not modified
// after the agent emits it.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult answers exactly one ToolUse.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ContentBlock is one element of a turn. Exactly one payload field is set,
// matching Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextBlock creates a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool_use block.
func ToolUseBlock(use ToolUse) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUse: &use}
}

// ToolResultBlock creates a tool_result block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &result}
}

// Turn is one entry of a conversation.
type Turn struct {
	Kind   TurnKind       `json:"kind"`
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// UserTurn creates a turn holding the caller's text.
func UserTurn(text string) Turn {
	return Turn{Kind: TurnUser, Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// AgentTurn creates a turn from the agent's response blocks.
func AgentTurn(blocks []ContentBlock) Turn {
	return Turn{Kind: TurnAgent, Role: RoleAgent, Blocks: blocks}
}

// ToolResultTurn creates the turn answering an agent turn's tool uses.
// Results keep the order given.
func ToolResultTurn(results []ToolResult) Turn {
	blocks := make([]ContentBlock, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ToolResultBlock(r))
	}
	return Turn{Kind: TurnToolResult, Role: RoleUser, Blocks: blocks}
}

// Text concatenates the text blocks of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, b := range t.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolUses returns the tool_use payloads in order.
func (t Turn) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range t.Blocks {
		if b.Type == BlockToolUse && b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}

// ToolResults returns the tool_result payloads in order.
func (t Turn) ToolResults() []ToolResult {
	var out []ToolResult
	for _, b := range t.Blocks {
		if b.Type == BlockToolResult && b.ToolResult != nil {
			out = append(out, *b.ToolResult)
		}
	}
	return out
}

// ErrUnpairedToolUse is matched by ValidatePairing failures.
var ErrUnpairedToolUse = errors.New("tool use without matching result")

// ValidatePairing checks that every agent turn with tool uses is directly
// followed by a tool-result turn carrying one result per use, with the same
// ids in the same order.
func ValidatePairing(turns []Turn) error {
	for i, t := range turns {
		if t.Kind != TurnAgent {
			continue
		}
		uses := t.ToolUses()
		if len(uses) == 0 {
			continue
		}
		if i+1 >= len(turns) || turns[i+1].Kind != TurnToolResult {
			return fmt.Errorf("turn %d: %d tool uses not answered: %w", i, len(uses), ErrUnpairedToolUse)
		}
		results := turns[i+1].ToolResults()
		if len(results) != len(uses) {
			return fmt.Errorf("turn %d: %d tool uses but %d results: %w", i, len(uses), len(results), ErrUnpairedToolUse)
		}
		for j := range uses {
			if uses[j].ID != results[j].ToolUseID {
				return fmt.Errorf("turn %d: result %d answers %q, want %q: %w",
					i, j, results[j].ToolUseID, uses[j].ID, ErrUnpairedToolUse)
			}
		}
	}
	return nil
}

// CloneTurns deep-copies turns so that callers can hand history to another
// goroutine without sharing block slices or tool input maps.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = Turn{Kind: t.Kind, Role: t.Role, Blocks: make([]ContentBlock, len(t.Blocks))}
		for j, b := range t.Blocks {
			nb := ContentBlock{Type: b.Type, Text: b.Text}
			if b.ToolUse != nil {
				use := *b.ToolUse
				use.Input = cloneMap(b.ToolUse.Input)
				nb.ToolUse = &use
			}
			if b.ToolResult != nil {
				res := *b.ToolResult
				nb.ToolResult = &res
			}
			out[i].Blocks[j] = nb
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}

// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import "context"

// Run statuses as reported by the external runtime. Only the terminal ones
// matter to the orchestrator; everything unknown is treated as terminal.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusExpired   = "expired"
)

// Message roles inside an external thread.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// RunResult is the terminal state of one run as seen after polling.
type RunResult struct {
	ID     string
	Status string
}

// ThreadMessage is one message read back from an external thread.
type ThreadMessage struct {
	ID   string
	Role string
	Text string
}

// Runtime is the external conversational-AI runtime: durable threads,
// appended messages, polled runs. The orchestrator depends on this
// interface only; the production implementation is OpenAIRuntime and tests
// substitute a fake. Injected at construction, never a package singleton.
//
// The runtime serializes runs per thread. The orchestrator relies on that
// guarantee instead of taking an in-process lock across queries.
type Runtime interface {
	// CreateThread creates a durable external thread tagged with metadata.
	// An optional vector store id attaches tenant documents for retrieval.
	CreateThread(ctx context.Context, metadata map[string]string, vectorStoreID string) (string, error)

	// AddMessage appends one message to the thread.
	AddMessage(ctx context.Context, threadID, role, content string) error

	// CreateAndPollRun submits a run against the thread's accumulated
	// messages and polls it to a terminal status. There is no cancellation
	// after submission; a caller that stops waiting leaves the run to
	// finish server-side.
	CreateAndPollRun(ctx context.Context, threadID, assistantID string) (RunResult, error)

	// ListMessages returns up to limit messages, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
}

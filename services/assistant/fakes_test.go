// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeRuntime is an in-memory Runtime. Run statuses are scripted per
// attempt; the last scripted status repeats. A completed run appends an
// assistant reply to the thread unless noReply is set.
type fakeRuntime struct {
	mu          sync.Mutex
	threads     map[string]map[string]string
	vectorStore map[string]string
	messages    map[string][]ThreadMessage
	runStatuses []string
	runErrs     []error
	noReply     bool
	replyText   string

	threadCount  int
	messageCount int
	runCount     int
}

var _ Runtime = (*fakeRuntime)(nil)

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		threads:     make(map[string]map[string]string),
		vectorStore: make(map[string]string),
		messages:    make(map[string][]ThreadMessage),
		replyText:   "Focus on the sales pipeline first.",
	}
}

func (f *fakeRuntime) CreateThread(_ context.Context, metadata map[string]string, vectorStoreID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadCount++
	id := fmt.Sprintf("thread_fake_%d", f.threadCount)
	copied := make(map[string]string, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	f.threads[id] = copied
	f.vectorStore[id] = vectorStoreID
	return id, nil
}

func (f *fakeRuntime) AddMessage(_ context.Context, threadID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCount++
	f.messages[threadID] = append(f.messages[threadID], ThreadMessage{
		ID:   fmt.Sprintf("msg_fake_%d", f.messageCount),
		Role: role,
		Text: content,
	})
	return nil
}

func (f *fakeRuntime) CreateAndPollRun(_ context.Context, threadID, assistantID string) (RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCount++
	attempt := f.runCount

	if len(f.runErrs) > 0 {
		idx := attempt - 1
		if idx >= len(f.runErrs) {
			idx = len(f.runErrs) - 1
		}
		if err := f.runErrs[idx]; err != nil {
			return RunResult{}, err
		}
	}

	status := RunStatusCompleted
	if len(f.runStatuses) > 0 {
		idx := attempt - 1
		if idx >= len(f.runStatuses) {
			idx = len(f.runStatuses) - 1
		}
		status = f.runStatuses[idx]
	}

	if status == RunStatusCompleted && !f.noReply {
		f.messageCount++
		f.messages[threadID] = append(f.messages[threadID], ThreadMessage{
			ID:   fmt.Sprintf("msg_fake_%d", f.messageCount),
			Role: MessageRoleAssistant,
			Text: f.replyText,
		})
	}
	return RunResult{ID: fmt.Sprintf("run_fake_%d", attempt), Status: status}, nil
}

func (f *fakeRuntime) ListMessages(_ context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.messages[threadID]
	// Newest first, as the real runtime returns them.
	result := make([]ThreadMessage, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, stored[i])
	}
	return result, nil
}

func (f *fakeRuntime) threadsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadCount
}

func (f *fakeRuntime) runsSubmitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCount
}

func (f *fakeRuntime) threadMetadata(threadID string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[threadID]
}

func (f *fakeRuntime) threadMessages(threadID string) []ThreadMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]ThreadMessage, len(f.messages[threadID]))
	copy(result, f.messages[threadID])
	return result
}

// recordingSleeper records requested delays instead of sleeping, so retry
// tests assert exact backoff without wall-clock time.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]time.Duration, len(s.delays))
	copy(result, s.delays)
	return result
}

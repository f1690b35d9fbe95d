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
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/strategio/navigator/pkg/logging"
)

// OpenAIRuntime drives the OpenAI Assistants API: threads, messages, and
// polled runs. One instance is created at process start and injected into
// the orchestrator.
type OpenAIRuntime struct {
	client       *openai.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *logging.Logger
}

var _ Runtime = (*OpenAIRuntime)(nil)

// NewOpenAIRuntime creates the production runtime adapter. The API key is
// taken from OPENAI_API_KEY, falling back to the container secret file.
func NewOpenAIRuntime(logger *logging.Logger) (*OpenAIRuntime, error) {
	if logger == nil {
		logger = logging.Default()
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		logger.Info("Read the OpenAI API key from container secrets")
	}
	return &OpenAIRuntime{
		client:       openai.NewClient(apiKey),
		pollInterval: time.Second,
		pollTimeout:  2 * time.Minute,
		logger:       logger,
	}, nil
}

// CreateThread creates an external thread carrying the thread key as
// metadata. When vectorStoreID is set, the tenant's document store is
// attached for file-search retrieval.
func (r *OpenAIRuntime) CreateThread(ctx context.Context, metadata map[string]string, vectorStoreID string) (string, error) {
	tagged := make(map[string]any, len(metadata))
	for k, v := range metadata {
		tagged[k] = v
	}
	req := openai.ThreadRequest{Metadata: tagged}
	if vectorStoreID != "" {
		req.ToolResources = &openai.ToolResourcesRequest{
			FileSearch: &openai.FileSearchToolResourcesRequest{
				VectorStoreIDs: []string{vectorStoreID},
			},
		}
	}

	thread, err := r.client.CreateThread(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	r.logger.Debug("Created external thread", "thread_id", thread.ID)
	return thread.ID, nil
}

// AddMessage appends one message to the thread.
func (r *OpenAIRuntime) AddMessage(ctx context.Context, threadID, role, content string) error {
	_, err := r.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    role,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("append message to thread %s: %w", threadID, err)
	}
	return nil
}

// CreateAndPollRun submits a run and polls until it leaves the in-flight
// statuses. Timeout semantics live in the poll loop itself; the run is not
// cancelled when polling stops.
func (r *OpenAIRuntime) CreateAndPollRun(ctx context.Context, threadID, assistantID string) (RunResult, error) {
	run, err := r.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("create run on thread %s: %w", threadID, err)
	}

	deadline := time.Now().Add(r.pollTimeout)
	for isRunInFlight(run.Status) {
		if time.Now().After(deadline) {
			return RunResult{ID: run.ID, Status: string(run.Status)},
				fmt.Errorf("run %s still %s after %s", run.ID, run.Status, r.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return RunResult{ID: run.ID, Status: string(run.Status)}, ctx.Err()
		case <-time.After(r.pollInterval):
		}
		run, err = r.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return RunResult{}, fmt.Errorf("poll run on thread %s: %w", threadID, err)
		}
	}

	r.logger.Debug("Run reached terminal status", "run_id", run.ID, "status", run.Status)
	return RunResult{ID: run.ID, Status: string(run.Status)}, nil
}

func isRunInFlight(status openai.RunStatus) bool {
	switch status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return true
	default:
		return false
	}
}

// ListMessages returns up to limit messages, newest first. Text content
// blocks are concatenated with newlines; non-text blocks are skipped.
func (r *OpenAIRuntime) ListMessages(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	order := "desc"
	list, err := r.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages on thread %s: %w", threadID, err)
	}

	messages := make([]ThreadMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		var parts []string
		for _, content := range msg.Content {
			if content.Type == "text" && content.Text != nil {
				parts = append(parts, content.Text.Value)
			}
		}
		messages = append(messages, ThreadMessage{
			ID:   msg.ID,
			Role: msg.Role,
			Text: strings.Join(parts, "\n"),
		})
	}
	return messages, nil
}

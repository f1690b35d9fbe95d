// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a required row does not exist. Optional
// rows (delivered roadmap, latest intake, existing thread) return
// (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// SQLite is the production store backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations. The parent directory is created if absent.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// OpenInMemory opens a fresh in-memory database. Used by tests and the
// local development server.
func OpenInMemory() (*SQLite, error) {
	return Open(":memory:")
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for migrations tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// GetTenant retrieves a tenant by id.
func (s *SQLite) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t := &Tenant{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_user_id, created_at FROM tenants WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.OwnerUserID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// GetUser retrieves a user by id.
func (s *SQLite) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, display_name, role FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.TenantID, &u.DisplayName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetAgentConfig retrieves the agent config for (tenant, agentType), or
// (nil, nil) when the tenant has not been provisioned.
func (s *SQLite) GetAgentConfig(ctx context.Context, tenantID, agentType string) (*AgentConfig, error) {
	c := &AgentConfig{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, agent_type, assistant_id, vector_store_id, created_at
		 FROM agent_configs WHERE tenant_id = ? AND agent_type = ?`, tenantID, agentType,
	).Scan(&c.ID, &c.TenantID, &c.AgentType, &c.AssistantID, &c.VectorStoreID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent config: %w", err)
	}
	return c, nil
}

// GetDeliveredRoadmap returns the tenant's delivered roadmap, or (nil, nil)
// when none has been delivered. The newest delivered roadmap wins if the
// platform ever holds more than one.
func (s *SQLite) GetDeliveredRoadmap(ctx context.Context, tenantID string) (*Roadmap, error) {
	r := &Roadmap{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, title, status, created_at FROM roadmaps
		 WHERE tenant_id = ? AND status = 'delivered'
		 ORDER BY created_at DESC LIMIT 1`, tenantID,
	).Scan(&r.ID, &r.TenantID, &r.Title, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivered roadmap: %w", err)
	}
	return r, nil
}

// ListRoadmapSections returns a roadmap's sections ordered by number.
func (s *SQLite) ListRoadmapSections(ctx context.Context, roadmapID string) ([]RoadmapSection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, roadmap_id, number, key, title, status, body
		 FROM roadmap_sections WHERE roadmap_id = ? ORDER BY number ASC`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roadmap sections: %w", err)
	}
	defer rows.Close()

	var sections []RoadmapSection
	for rows.Next() {
		var sec RoadmapSection
		if err := rows.Scan(&sec.ID, &sec.RoadmapID, &sec.Number, &sec.Key, &sec.Title, &sec.Status, &sec.Body); err != nil {
			return nil, fmt.Errorf("failed to scan roadmap section: %w", err)
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// GetLatestIntake returns the tenant's most recent intake, or (nil, nil)
// when no intake has been submitted.
func (s *SQLite) GetLatestIntake(ctx context.Context, tenantID string) (*Intake, error) {
	var (
		in      Intake
		answers string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, answers, created_at FROM intakes
		 WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, tenantID,
	).Scan(&in.ID, &in.TenantID, &answers, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest intake: %w", err)
	}
	if err := json.Unmarshal([]byte(answers), &in.Answers); err != nil {
		return nil, fmt.Errorf("failed to decode intake answers: %w", err)
	}
	return &in, nil
}

// GetAgentThread looks up a thread by its full key, or (nil, nil) when the
// actor has no thread yet.
func (s *SQLite) GetAgentThread(ctx context.Context, key ThreadKey) (*AgentThread, error) {
	t := &AgentThread{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, role_type, actor_user_id, actor_role,
		        external_thread_id, agent_config_id, visibility, last_activity_at, created_at
		 FROM agent_threads
		 WHERE tenant_id = ? AND role_type = ? AND actor_user_id = ? AND actor_role = ?`,
		key.TenantID, key.RoleType, key.ActorUserID, key.ActorRole,
	).Scan(&t.ID, &t.TenantID, &t.RoleType, &t.ActorUserID, &t.ActorRole,
		&t.ExternalThreadID, &t.AgentConfigID, &t.Visibility, &t.LastActivityAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent thread: %w", err)
	}
	return t, nil
}

// InsertAgentThread persists a newly created thread mapping. The unique
// index over the thread key rejects concurrent duplicate creation.
func (s *SQLite) InsertAgentThread(ctx context.Context, t *AgentThread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_threads
		 (id, tenant_id, role_type, actor_user_id, actor_role, external_thread_id,
		  agent_config_id, visibility, last_activity_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.RoleType, t.ActorUserID, t.ActorRole,
		t.ExternalThreadID, t.AgentConfigID, t.Visibility, t.LastActivityAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent thread: %w", err)
	}
	return nil
}

// TouchAgentThread updates a thread's last-activity timestamp.
func (s *SQLite) TouchAgentThread(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE agent_threads SET last_activity_at = ? WHERE id = ?", at, id)
	if err != nil {
		return fmt.Errorf("failed to touch agent thread: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("agent thread %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertAgentMessage persists one conversation message.
func (s *SQLite) InsertAgentMessage(ctx context.Context, m *AgentMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO agent_messages (id, thread_id, role, content) VALUES (?, ?, ?, ?)",
		m.ID, m.ThreadID, m.Role, m.Content)
	if err != nil {
		return fmt.Errorf("failed to insert agent message: %w", err)
	}
	return nil
}

// InsertAgentLog persists one structured audit event.
func (s *SQLite) InsertAgentLog(ctx context.Context, l *AgentLog) error {
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode log metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO agent_logs (id, tenant_id, event_type, metadata) VALUES (?, ?, ?, ?)",
		l.ID, l.TenantID, l.EventType, string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	return nil
}

// ListAgentLogs returns a tenant's audit events, newest first.
func (s *SQLite) ListAgentLogs(ctx context.Context, tenantID string, limit int) ([]AgentLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, event_type, metadata, created_at FROM agent_logs
		 WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent logs: %w", err)
	}
	defer rows.Close()

	var logs []AgentLog
	for rows.Next() {
		var (
			l        AgentLog
			metadata string
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.EventType, &metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode log metadata: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UpsertStrategyContext stores the audit copy of the last assembled
// strategy context for a tenant, keyed by tenant id.
func (s *SQLite) UpsertStrategyContext(ctx context.Context, tenantID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_strategy_contexts (tenant_id, payload, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(tenant_id) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		tenantID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert strategy context: %w", err)
	}
	return nil
}

// GetStrategyContext returns the stored audit context for a tenant, or
// (nil, nil) when none has been recorded.
func (s *SQLite) GetStrategyContext(ctx context.Context, tenantID string) (*StrategyContextRecord, error) {
	var (
		rec     StrategyContextRecord
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT tenant_id, payload, updated_at FROM agent_strategy_contexts WHERE tenant_id = ?", tenantID,
	).Scan(&rec.TenantID, &payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy context: %w", err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

// InsertTenant persists a tenant row. Used by onboarding and tests.
func (s *SQLite) InsertTenant(ctx context.Context, t *Tenant) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tenants (id, name, owner_user_id) VALUES (?, ?, ?)",
		t.ID, t.Name, t.OwnerUserID)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// InsertUser persists a user row.
func (s *SQLite) InsertUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, tenant_id, display_name, role) VALUES (?, ?, ?, ?)",
		u.ID, u.TenantID, u.DisplayName, u.Role)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// InsertAgentConfig persists a tenant's assistant provisioning record.
func (s *SQLite) InsertAgentConfig(ctx context.Context, c *AgentConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_configs (id, tenant_id, agent_type, assistant_id, vector_store_id)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.AgentType, c.AssistantID, c.VectorStoreID)
	if err != nil {
		return fmt.Errorf("failed to insert agent config: %w", err)
	}
	return nil
}

// InsertRoadmap persists a roadmap row.
func (s *SQLite) InsertRoadmap(ctx context.Context, r *Roadmap) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO roadmaps (id, tenant_id, title, status) VALUES (?, ?, ?, ?)",
		r.ID, r.TenantID, r.Title, r.Status)
	if err != nil {
		return fmt.Errorf("failed to insert roadmap: %w", err)
	}
	return nil
}

// InsertRoadmapSection persists a roadmap section row.
func (s *SQLite) InsertRoadmapSection(ctx context.Context, sec *RoadmapSection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roadmap_sections (id, roadmap_id, number, key, title, status, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sec.ID, sec.RoadmapID, sec.Number, sec.Key, sec.Title, sec.Status, sec.Body)
	if err != nil {
		return fmt.Errorf("failed to insert roadmap section: %w", err)
	}
	return nil
}

// InsertIntake persists an intake row.
func (s *SQLite) InsertIntake(ctx context.Context, in *Intake) error {
	answers, err := json.Marshal(in.Answers)
	if err != nil {
		return fmt.Errorf("failed to encode intake answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO intakes (id, tenant_id, answers) VALUES (?, ?, ?)",
		in.ID, in.TenantID, string(answers))
	if err != nil {
		return fmt.Errorf("failed to insert intake: %w", err)
	}
	return nil
}

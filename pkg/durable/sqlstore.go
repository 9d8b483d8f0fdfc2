// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS durable_sessions (
	agent_name  TEXT NOT NULL,
	session_key TEXT NOT NULL,
	state       BLOB NOT NULL,
	PRIMARY KEY (agent_name, session_key)
);`

// SQLiteStateStore persists entity state in a SQLite database so sessions
// survive process restarts.
type SQLiteStateStore struct {
	db *sql.DB
}

var _ StateStore = (*SQLiteStateStore)(nil)

// NewSQLiteStateStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent entities.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

func (s *SQLiteStateStore) Load(ctx context.Context, id SessionID) (*State, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM durable_sessions WHERE agent_name = ? AND session_key = ?`,
		id.AgentName, id.SessionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", id, err)
	}
	return &st, nil
}

func (s *SQLiteStateStore) Save(ctx context.Context, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO durable_sessions (agent_name, session_key, state) VALUES (?, ?, ?)
		 ON CONFLICT (agent_name, session_key) DO UPDATE SET state = excluded.state`,
		state.ID.AgentName, state.ID.SessionKey, raw)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", state.ID, err)
	}
	return nil
}

func (s *SQLiteStateStore) Delete(ctx context.Context, id SessionID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM durable_sessions WHERE agent_name = ? AND session_key = ?`,
		id.AgentName, id.SessionKey)
	if err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

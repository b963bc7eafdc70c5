package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/logging"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// Fractional seconds keep expiry comparisons exact; the driver parses
// this layout back into time.Time on scan.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

// SQLiteConfig bounds the connection pool used to reach the database.
type SQLiteConfig struct {
	// Path is the database file location; ":memory:" creates an
	// in-memory database (pool forced to a single connection).
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits on a locked database
	// before failing.
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns sensible pool bounds for shared use.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// SQLiteStore implements Store backed by SQLite. WAL mode plus the
// INSERT ... ON CONFLICT upsert give atomicity across concurrent writers
// from different processes.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database, applies pool bounds, and creates the
// schema if needed.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to open SQLite database"),
			errors.Fields{"path": cfg.Path},
		)
	}

	if cfg.Path == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	store := &SQLiteStore{db: db, path: cfg.Path}
	if err := store.init(cfg); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init(cfg SQLiteConfig) error {
	// Enable WAL mode for better concurrency
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "failed to enable WAL mode")
	}
	if cfg.BusyTimeout > 0 {
		stmt := fmt.Sprintf("PRAGMA busy_timeout = %d;", cfg.BusyTimeout.Milliseconds())
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, errors.PersistenceFailed, "failed to set busy timeout")
		}
	}

	schema := `
    CREATE TABLE IF NOT EXISTS agent_types (
        id TEXT PRIMARY KEY,
        state_dims INTEGER NOT NULL,
        action_dims INTEGER NOT NULL,
        learning_rate REAL NOT NULL,
        discount_factor REAL NOT NULL,
        exploration_rate REAL NOT NULL,
        exploration_decay REAL NOT NULL,
        min_exploration_rate REAL NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        agent_type TEXT NOT NULL,
        instance_id TEXT NOT NULL,
        started_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS q_values (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        agent_type TEXT NOT NULL,
        state_hash TEXT NOT NULL,
        state_data TEXT NOT NULL,
        action_hash TEXT NOT NULL,
        action_data TEXT NOT NULL,
        value REAL NOT NULL DEFAULT 0,
        visit_count INTEGER NOT NULL DEFAULT 1,
        confidence REAL NOT NULL DEFAULT 0,
        uncertainty REAL NOT NULL DEFAULT 1,
        expires_at DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(agent_type, state_hash, action_hash)
    );

    CREATE INDEX IF NOT EXISTS idx_q_values_lookup
    ON q_values(agent_type, state_hash);

    CREATE INDEX IF NOT EXISTS idx_q_values_expiry
    ON q_values(expires_at) WHERE expires_at IS NOT NULL;

    CREATE TABLE IF NOT EXISTS trajectories (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        agent_type TEXT NOT NULL,
        instance_id TEXT NOT NULL,
        initial_state_hash TEXT NOT NULL,
        final_state_hash TEXT,
        steps TEXT NOT NULL,
        total_reward REAL NOT NULL,
        discounted_reward REAL NOT NULL,
        duration_ms INTEGER NOT NULL,
        success INTEGER NOT NULL,
        error_note TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS learning_state (
        agent_type TEXT NOT NULL,
        instance_id TEXT NOT NULL,
        epsilon REAL NOT NULL,
        cumulative_reward REAL NOT NULL,
        average_reward REAL NOT NULL,
        tasks_total INTEGER NOT NULL,
        tasks_succeeded INTEGER NOT NULL,
        tasks_failed INTEGER NOT NULL,
        last_activity DATETIME NOT NULL,
        PRIMARY KEY(agent_type, instance_id)
    );
    `

	if _, err := s.db.Exec(schema); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to initialize schema"),
			errors.Fields{"path": s.path},
		)
	}
	return nil
}

// RegisterAgentType implements Store.
func (s *SQLiteStore) RegisterAgentType(ctx context.Context, agent rl.AgentType) error {
	query := `
    INSERT INTO agent_types (
        id, state_dims, action_dims, learning_rate, discount_factor,
        exploration_rate, exploration_decay, min_exploration_rate
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO NOTHING
    `
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.StateDims, agent.ActionDims,
		agent.LearningRate, agent.DiscountFactor,
		agent.ExplorationRate, agent.ExplorationDecay, agent.MinExplorationRate,
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to register agent type"),
			errors.Fields{"agent_type": agent.ID},
		)
	}
	return nil
}

// CreateSession implements Store.
func (s *SQLiteStore) CreateSession(ctx context.Context, agentType, instanceID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, agent_type, instance_id) VALUES (?, ?, ?)",
		id, agentType, instanceID,
	)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to create session"),
			errors.Fields{"agent_type": agentType, "instance_id": instanceID},
		)
	}
	return id, nil
}

// UpsertQValue implements Store. The whole insert-or-update is a single
// statement, so concurrent writers cannot lose visit counts: the conflict
// branch increments the stored count and recomputes confidence from it.
func (s *SQLiteStore) UpsertQValue(ctx context.Context, update QValueUpdate) (int64, error) {
	stateData, err := json.Marshal(update.StateData)
	if err != nil {
		return 0, errors.Wrap(err, errors.InvalidInput, "failed to marshal state data")
	}
	actionData, err := json.Marshal(update.ActionData)
	if err != nil {
		return 0, errors.Wrap(err, errors.InvalidInput, "failed to marshal action data")
	}

	var expiresAt interface{}
	if update.TTL > 0 {
		expiresAt = time.Now().UTC().Add(update.TTL).Format(sqliteTimeLayout)
	}

	query := `
    INSERT INTO q_values (
        agent_type, state_hash, state_data, action_hash, action_data,
        value, visit_count, confidence, uncertainty, expires_at
    ) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
    ON CONFLICT(agent_type, state_hash, action_hash) DO UPDATE SET
        value = excluded.value,
        visit_count = q_values.visit_count + 1,
        confidence = CAST(q_values.visit_count + 1 AS REAL) / (q_values.visit_count + 11),
        uncertainty = 1.0 - CAST(q_values.visit_count + 1 AS REAL) / (q_values.visit_count + 11),
        expires_at = COALESCE(excluded.expires_at, q_values.expires_at),
        updated_at = CURRENT_TIMESTAMP
    `

	confidence := rl.ConfidenceFromVisits(1)
	_, err = s.db.ExecContext(ctx, query,
		update.AgentType, update.StateHash, string(stateData),
		update.ActionHash, string(actionData),
		update.Value, confidence, 1-confidence, expiresAt,
	)
	if err != nil {
		return 0, errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to upsert Q-value"),
			errors.Fields{
				"agent_type": update.AgentType,
				"state_hash": update.StateHash,
			},
		)
	}

	var rowID int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM q_values WHERE agent_type = ? AND state_hash = ? AND action_hash = ?",
		update.AgentType, update.StateHash, update.ActionHash,
	).Scan(&rowID)
	if err != nil {
		return 0, errors.Wrap(err, errors.PersistenceFailed, "failed to read upserted row id")
	}
	return rowID, nil
}

const qValueColumns = `
    agent_type, state_hash, state_data, action_hash, action_data,
    value, visit_count, confidence, uncertainty, expires_at, updated_at`

// GetQValues implements Store. Expired rows are excluded.
func (s *SQLiteStore) GetQValues(ctx context.Context, agentType, stateHash string) ([]rl.QValue, error) {
	query := `
    SELECT ` + qValueColumns + `
    FROM q_values
    WHERE agent_type = ? AND state_hash = ?
      AND (expires_at IS NULL OR expires_at > ?)
    ORDER BY value DESC, confidence DESC, action_hash ASC
    `
	now := time.Now().UTC().Format(sqliteTimeLayout)
	rows, err := s.db.QueryContext(ctx, query, agentType, stateHash, now)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to query Q-values"),
			errors.Fields{"agent_type": agentType, "state_hash": stateHash},
		)
	}
	defer rows.Close()

	var result []rl.QValue
	for rows.Next() {
		qv, err := scanQValue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, qv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.PersistenceFailed, "error iterating Q-value rows")
	}
	return result, nil
}

// GetBestAction implements Store. Ties on value resolve to the higher
// confidence, then the lexicographically smallest action hash.
func (s *SQLiteStore) GetBestAction(ctx context.Context, agentType, stateHash string) (*rl.QValue, error) {
	query := `
    SELECT ` + qValueColumns + `
    FROM q_values
    WHERE agent_type = ? AND state_hash = ?
      AND (expires_at IS NULL OR expires_at > ?)
    ORDER BY value DESC, confidence DESC, action_hash ASC
    LIMIT 1
    `
	now := time.Now().UTC().Format(sqliteTimeLayout)
	row := s.db.QueryRowContext(ctx, query, agentType, stateHash, now)

	qv, err := scanQValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &qv, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQValue(row rowScanner) (rl.QValue, error) {
	var qv rl.QValue
	var stateData, actionData string
	var expiresAt, updatedAt sql.NullTime

	err := row.Scan(
		&qv.AgentType, &qv.StateHash, &stateData, &qv.ActionHash, &actionData,
		&qv.Value, &qv.VisitCount, &qv.Confidence, &qv.Uncertainty,
		&expiresAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return qv, err
	}
	if err != nil {
		return qv, errors.Wrap(err, errors.PersistenceFailed, "failed to scan Q-value row")
	}

	if err := json.Unmarshal([]byte(stateData), &qv.StateData); err != nil {
		return qv, errors.Wrap(err, errors.PersistenceFailed, "failed to unmarshal state data")
	}
	if err := json.Unmarshal([]byte(actionData), &qv.ActionData); err != nil {
		return qv, errors.Wrap(err, errors.PersistenceFailed, "failed to unmarshal action data")
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		qv.ExpiresAt = &t
	}
	if updatedAt.Valid {
		qv.UpdatedAt = updatedAt.Time
	}
	return qv, nil
}

// StoreTrajectory implements Store.
func (s *SQLiteStore) StoreTrajectory(ctx context.Context, trajectory *rl.Trajectory) error {
	steps, err := json.Marshal(trajectory.Steps)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to marshal trajectory steps")
	}

	query := `
    INSERT INTO trajectories (
        id, session_id, agent_type, instance_id,
        initial_state_hash, final_state_hash, steps,
        total_reward, discounted_reward, duration_ms, success, error_note
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		trajectory.ID, trajectory.SessionID, trajectory.AgentType, trajectory.InstanceID,
		trajectory.InitialStateHash, trajectory.FinalStateHash, string(steps),
		trajectory.TotalReward, trajectory.DiscountedReward,
		trajectory.Duration.Milliseconds(), boolToInt(trajectory.Success), trajectory.ErrorNote,
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to store trajectory"),
			errors.Fields{"trajectory_id": trajectory.ID},
		)
	}
	return nil
}

// SaveLearningState implements Store.
func (s *SQLiteStore) SaveLearningState(ctx context.Context, state *rl.LearningState) error {
	query := `
    INSERT INTO learning_state (
        agent_type, instance_id, epsilon, cumulative_reward, average_reward,
        tasks_total, tasks_succeeded, tasks_failed, last_activity
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(agent_type, instance_id) DO UPDATE SET
        epsilon = excluded.epsilon,
        cumulative_reward = excluded.cumulative_reward,
        average_reward = excluded.average_reward,
        tasks_total = excluded.tasks_total,
        tasks_succeeded = excluded.tasks_succeeded,
        tasks_failed = excluded.tasks_failed,
        last_activity = excluded.last_activity
    `
	_, err := s.db.ExecContext(ctx, query,
		state.AgentType, state.InstanceID, state.Epsilon,
		state.CumulativeReward, state.AverageReward,
		state.TasksTotal, state.TasksSucceeded, state.TasksFailed,
		state.LastActivity.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to save learning state"),
			errors.Fields{"agent_type": state.AgentType, "instance_id": state.InstanceID},
		)
	}
	return nil
}

// GetLearningState implements Store.
func (s *SQLiteStore) GetLearningState(ctx context.Context, agentType, instanceID string) (*rl.LearningState, error) {
	query := `
    SELECT agent_type, instance_id, epsilon, cumulative_reward, average_reward,
           tasks_total, tasks_succeeded, tasks_failed, last_activity
    FROM learning_state
    WHERE agent_type = ? AND instance_id = ?
    `
	var state rl.LearningState
	var lastActivity sql.NullTime
	err := s.db.QueryRowContext(ctx, query, agentType, instanceID).Scan(
		&state.AgentType, &state.InstanceID, &state.Epsilon,
		&state.CumulativeReward, &state.AverageReward,
		&state.TasksTotal, &state.TasksSucceeded, &state.TasksFailed,
		&lastActivity,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.PersistenceFailed, "failed to load learning state"),
			errors.Fields{"agent_type": agentType, "instance_id": instanceID},
		)
	}
	if lastActivity.Valid {
		state.LastActivity = lastActivity.Time
	}
	return &state, nil
}

// CleanupExpired implements Store. The delete targets only expired rows,
// so it never takes a table-wide lock in WAL mode.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM q_values WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, errors.Wrap(err, errors.PersistenceFailed, "failed to clean expired Q-values")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.PersistenceFailed, "failed to get affected rows count")
	}
	if affected > 0 {
		logging.GetLogger().Debug(ctx, "purged %d expired Q-values", affected)
	}
	return affected, nil
}

// GetStats implements Store.
func (s *SQLiteStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `
    SELECT
        (SELECT COUNT(*) FROM q_values),
        (SELECT COUNT(*) FROM trajectories),
        (SELECT COUNT(*) FROM sessions),
        (SELECT COUNT(*) FROM agent_types)
    `)
	if err := row.Scan(&stats.QValueRows, &stats.TrajectoryRows, &stats.SessionRows, &stats.AgentTypes); err != nil {
		return stats, errors.Wrap(err, errors.PersistenceFailed, "failed to read store stats")
	}
	return stats, nil
}

// Close closes the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.PersistenceFailed, "failed to close database connection")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

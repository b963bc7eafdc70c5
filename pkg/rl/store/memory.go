package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// MemoryStore is a process-local Store used for ephemeral mode and tests.
// It applies the same upsert and expiry semantics as the SQLite store but
// offers no cross-process durability.
type MemoryStore struct {
	mu sync.RWMutex

	agents       map[string]rl.AgentType
	sessions     map[string]struct{}
	qvalues      map[string]*rl.QValue // key: agentType|stateHash|actionHash
	trajectories []*rl.Trajectory
	learning     map[string]*rl.LearningState // key: agentType|instanceID

	nextRowID int64
	rowIDs    map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]rl.AgentType),
		sessions: make(map[string]struct{}),
		qvalues:  make(map[string]*rl.QValue),
		learning: make(map[string]*rl.LearningState),
		rowIDs:   make(map[string]int64),
	}
}

func qKey(agentType, stateHash, actionHash string) string {
	return agentType + "|" + stateHash + "|" + actionHash
}

// RegisterAgentType implements Store.
func (m *MemoryStore) RegisterAgentType(ctx context.Context, agent rl.AgentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[agent.ID]; !exists {
		m.agents[agent.ID] = agent
	}
	return nil
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(ctx context.Context, agentType, instanceID string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = struct{}{}
	m.mu.Unlock()
	return id, nil
}

// UpsertQValue implements Store.
func (m *MemoryStore) UpsertQValue(ctx context.Context, update QValueUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := qKey(update.AgentType, update.StateHash, update.ActionHash)
	var expiresAt *time.Time
	if update.TTL > 0 {
		t := time.Now().Add(update.TTL)
		expiresAt = &t
	}

	if existing, ok := m.qvalues[key]; ok {
		existing.Value = update.Value
		existing.VisitCount++
		existing.Confidence = rl.ConfidenceFromVisits(existing.VisitCount)
		existing.Uncertainty = 1 - existing.Confidence
		if expiresAt != nil {
			existing.ExpiresAt = expiresAt
		}
		existing.UpdatedAt = time.Now()
		return m.rowIDs[key], nil
	}

	m.nextRowID++
	m.rowIDs[key] = m.nextRowID
	m.qvalues[key] = &rl.QValue{
		AgentType:   update.AgentType,
		StateHash:   update.StateHash,
		ActionHash:  update.ActionHash,
		StateData:   update.StateData,
		ActionData:  update.ActionData,
		Value:       update.Value,
		VisitCount:  1,
		Confidence:  rl.ConfidenceFromVisits(1),
		Uncertainty: 1 - rl.ConfidenceFromVisits(1),
		ExpiresAt:   expiresAt,
		UpdatedAt:   time.Now(),
	}
	return m.nextRowID, nil
}

func (m *MemoryStore) liveRows(agentType, stateHash string, now time.Time) []rl.QValue {
	var rows []rl.QValue
	for _, qv := range m.qvalues {
		if qv.AgentType != agentType || qv.StateHash != stateHash {
			continue
		}
		if qv.ExpiresAt != nil && !qv.ExpiresAt.After(now) {
			continue
		}
		rows = append(rows, *qv)
	}
	// Same ordering contract as the SQLite store.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		if rows[i].Confidence != rows[j].Confidence {
			return rows[i].Confidence > rows[j].Confidence
		}
		return rows[i].ActionHash < rows[j].ActionHash
	})
	return rows
}

// GetQValues implements Store.
func (m *MemoryStore) GetQValues(ctx context.Context, agentType, stateHash string) ([]rl.QValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveRows(agentType, stateHash, time.Now()), nil
}

// GetBestAction implements Store.
func (m *MemoryStore) GetBestAction(ctx context.Context, agentType, stateHash string) (*rl.QValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.liveRows(agentType, stateHash, time.Now())
	if len(rows) == 0 {
		return nil, nil
	}
	best := rows[0]
	return &best, nil
}

// StoreTrajectory implements Store.
func (m *MemoryStore) StoreTrajectory(ctx context.Context, trajectory *rl.Trajectory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *trajectory
	m.trajectories = append(m.trajectories, &copied)
	return nil
}

// Trajectories returns a snapshot of all stored trajectories.
func (m *MemoryStore) Trajectories() []*rl.Trajectory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*rl.Trajectory, len(m.trajectories))
	copy(out, m.trajectories)
	return out
}

// SaveLearningState implements Store.
func (m *MemoryStore) SaveLearningState(ctx context.Context, state *rl.LearningState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.learning[state.AgentType+"|"+state.InstanceID] = &copied
	return nil
}

// GetLearningState implements Store.
func (m *MemoryStore) GetLearningState(ctx context.Context, agentType, instanceID string) (*rl.LearningState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.learning[agentType+"|"+instanceID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// CleanupExpired implements Store.
func (m *MemoryStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, qv := range m.qvalues {
		if qv.ExpiresAt != nil && !qv.ExpiresAt.After(now) {
			delete(m.qvalues, key)
			delete(m.rowIDs, key)
			removed++
		}
	}
	return removed, nil
}

// GetStats implements Store.
func (m *MemoryStore) GetStats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		QValueRows:     int64(len(m.qvalues)),
		TrajectoryRows: int64(len(m.trajectories)),
		SessionRows:    int64(len(m.sessions)),
		AgentTypes:     int64(len(m.agents)),
	}, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

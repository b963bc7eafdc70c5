// Package learner implements the epsilon-greedy Q-learning control loop:
// action selection, Bellman value updates, epsilon decay, and episode
// execution against a caller-supplied action executor. Each Learner owns
// the in-memory Q-table cache for its process and synchronizes it to the
// durable store.
package learner

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/logging"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/encoder"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/reward"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/store"
)

const defaultUpdateFrequency = 10

type options struct {
	mode            rl.Mode
	updateFrequency int
	decayCadence    DecayCadence
	initialQValue   float64
	qValueTTL       time.Duration
	maxCachedPairs  int
	seed            int64
	instanceID      string
	encoder         *encoder.Encoder
	rewards         *reward.Calculator
}

// Option customizes a Learner.
type Option func(*options)

// WithMode selects the operating mode. Defaults to ModeFull when a store
// is provided, ModeEphemeral otherwise.
func WithMode(mode rl.Mode) Option {
	return func(o *options) { o.mode = mode }
}

// WithUpdateFrequency sets how many Q-value updates accumulate before the
// cache is flushed to the durable store. Higher values trade durability
// latency for write throughput.
func WithUpdateFrequency(n int) Option {
	return func(o *options) { o.updateFrequency = n }
}

// WithDecayCadence selects when epsilon decays.
func WithDecayCadence(c DecayCadence) Option {
	return func(o *options) { o.decayCadence = c }
}

// WithInitialQValue sets the prior for unvisited state-action pairs.
func WithInitialQValue(v float64) Option {
	return func(o *options) { o.initialQValue = v }
}

// WithQValueTTL sets an expiry on persisted Q-values.
func WithQValueTTL(ttl time.Duration) Option {
	return func(o *options) { o.qValueTTL = ttl }
}

// WithMaxCachedPairs bounds the in-memory cache, evicting least recently
// used entries. Zero means unbounded.
func WithMaxCachedPairs(n int) Option {
	return func(o *options) { o.maxCachedPairs = n }
}

// WithSeed fixes the random source, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithInstanceID sets the agent instance identifier. Defaults to a fresh
// uuid per Learner.
func WithInstanceID(id string) Option {
	return func(o *options) { o.instanceID = id }
}

// WithEncoder supplies a shared state encoder (e.g. with custom feature
// strategies registered).
func WithEncoder(e *encoder.Encoder) Option {
	return func(o *options) { o.encoder = e }
}

// WithRewardCalculator supplies a shared reward calculator.
func WithRewardCalculator(c *reward.Calculator) Option {
	return func(o *options) { o.rewards = c }
}

// Learner runs learning episodes for one agent instance. Safe for
// concurrent use; independent episodes coordinate only through the
// store's atomic upsert.
type Learner struct {
	agent      rl.AgentType
	instanceID string
	sessionID  string

	mode    rl.Mode
	store   store.Store
	encoder *encoder.Encoder
	rewards *reward.Calculator
	cache   *qtableCache

	updateFrequency int
	decayCadence    DecayCadence
	initialQValue   float64
	qValueTTL       time.Duration

	mu                sync.Mutex // guards epsilon, rng, counters below
	epsilon           float64
	rng               *rand.Rand
	updatesSinceFlush int
	lastEpisodeReward float64
	episodes          int64
	successes         int64
	rewardSum         float64

	degraded     atomic.Bool
	degradedOnce sync.Once

	// ephemeral-mode trajectory buffer
	trajMu       sync.Mutex
	trajectories []*rl.Trajectory
}

// New validates the agent type's hyperparameters and builds a learner.
// Invalid configuration is fatal at construction; persistence problems
// are not (the learner starts degraded instead).
func New(agent rl.AgentType, st store.Store, opts ...Option) (*Learner, error) {
	if err := validateAgentType(agent); err != nil {
		return nil, err
	}

	o := options{
		mode:            rl.ModeFull,
		updateFrequency: defaultUpdateFrequency,
	}
	if st == nil {
		o.mode = rl.ModeEphemeral
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mode == rl.ModeFull && st == nil {
		return nil, errors.New(errors.ConfigurationInvalid, "full learning mode requires a store")
	}
	if o.updateFrequency < 1 {
		return nil, errors.New(errors.ConfigurationInvalid, "update frequency must be at least 1")
	}
	if o.encoder == nil {
		o.encoder = encoder.New()
	}
	if o.rewards == nil {
		o.rewards = reward.NewCalculator()
	}
	if o.instanceID == "" {
		o.instanceID = uuid.NewString()
	}
	seed := o.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	l := &Learner{
		agent:           agent,
		instanceID:      o.instanceID,
		mode:            o.mode,
		store:           st,
		encoder:         o.encoder,
		rewards:         o.rewards,
		cache:           newQTableCache(o.maxCachedPairs),
		updateFrequency: o.updateFrequency,
		decayCadence:    o.decayCadence,
		initialQValue:   o.initialQValue,
		qValueTTL:       o.qValueTTL,
		epsilon:         agent.ExplorationRate,
		rng:             rand.New(rand.NewSource(seed)),
	}

	if l.mode == rl.ModeFull {
		ctx := context.Background()
		if err := st.RegisterAgentType(ctx, agent); err != nil {
			l.degrade(ctx, err)
		} else if sessionID, err := st.CreateSession(ctx, agent.ID, l.instanceID); err != nil {
			l.degrade(ctx, err)
		} else {
			l.sessionID = sessionID
		}
	}

	return l, nil
}

func validateAgentType(agent rl.AgentType) error {
	if agent.ID == "" {
		return errors.New(errors.ConfigurationInvalid, "agent type id is required")
	}
	if agent.LearningRate <= 0 || agent.LearningRate > 1 {
		return errors.WithFields(
			errors.New(errors.ConfigurationInvalid, "learning rate must be in (0, 1]"),
			errors.Fields{"learning_rate": agent.LearningRate},
		)
	}
	if agent.DiscountFactor <= 0 || agent.DiscountFactor > 1 {
		return errors.WithFields(
			errors.New(errors.ConfigurationInvalid, "discount factor must be in (0, 1]"),
			errors.Fields{"discount_factor": agent.DiscountFactor},
		)
	}
	if agent.ExplorationRate < 0 || agent.ExplorationRate > 1 {
		return errors.WithFields(
			errors.New(errors.ConfigurationInvalid, "exploration rate must be in [0, 1]"),
			errors.Fields{"exploration_rate": agent.ExplorationRate},
		)
	}
	if agent.ExplorationDecay <= 0 || agent.ExplorationDecay > 1 {
		return errors.WithFields(
			errors.New(errors.ConfigurationInvalid, "exploration decay must be in (0, 1]"),
			errors.Fields{"exploration_decay": agent.ExplorationDecay},
		)
	}
	if agent.MinExplorationRate < 0 || agent.MinExplorationRate > agent.ExplorationRate {
		return errors.WithFields(
			errors.New(errors.ConfigurationInvalid, "min exploration rate must be in [0, exploration rate]"),
			errors.Fields{"min_exploration_rate": agent.MinExplorationRate},
		)
	}
	return nil
}

// degrade flips the learner into in-memory-only operation for the rest of
// the process. Logged once, not per occurrence.
func (l *Learner) degrade(ctx context.Context, err error) {
	l.degraded.Store(true)
	l.degradedOnce.Do(func() {
		logging.GetLogger().Warn(ctx,
			"persistence unavailable, continuing with in-memory learning only: %v", err)
	})
}

func (l *Learner) persisting() bool {
	return l.mode == rl.ModeFull && !l.degraded.Load()
}

// Epsilon returns the current exploration rate.
func (l *Learner) Epsilon() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epsilon
}

// SelectAction picks an action for the task context from the caller's
// action space. With probability epsilon the choice is uniformly random;
// otherwise the highest-valued known action wins, ties broken by earliest
// position in the action space. Encoding failures fall back to random
// selection and never fail the call.
func (l *Learner) SelectAction(ctx context.Context, taskContext map[string]interface{}, actionSpace []rl.Action) (rl.Action, error) {
	if len(actionSpace) == 0 {
		return rl.Action{}, errors.New(errors.InvalidInput, "action space is empty")
	}
	if l.mode == rl.ModeDisabled {
		return l.randomAction(actionSpace), nil
	}

	state, err := l.encoder.Encode(l.agent.ID, taskContext)
	if err != nil {
		logging.GetLogger().Debug(ctx, "state encoding failed, selecting randomly: %v", err)
		return l.randomAction(actionSpace), nil
	}

	l.mu.Lock()
	explore := l.rng.Float64() < l.epsilon
	l.mu.Unlock()

	if explore {
		return l.randomAction(actionSpace), nil
	}
	return l.exploit(ctx, state, actionSpace), nil
}

func (l *Learner) randomAction(actionSpace []rl.Action) rl.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	return actionSpace[l.rng.Intn(len(actionSpace))]
}

// exploit returns the argmax action over the action space. Unvisited
// actions score the configured prior. The tie-break is deterministic:
// the earliest maximal action in the caller-supplied order wins.
func (l *Learner) exploit(ctx context.Context, state *rl.State, actionSpace []rl.Action) rl.Action {
	l.warmState(ctx, state.Hash)

	best := 0
	bestValue := math.Inf(-1)
	for i := range actionSpace {
		if err := ensureActionHash(&actionSpace[i]); err != nil {
			logging.GetLogger().Debug(ctx, "skipping unhashable action %s: %v", actionSpace[i].ID, err)
			continue
		}
		value := l.initialQValue
		if entry, ok := l.cache.get(state.Hash, actionSpace[i].Hash); ok {
			value = entry.value
		}
		if value > bestValue {
			bestValue = value
			best = i
		}
	}
	return actionSpace[best]
}

// warmState populates the cache from the durable store the first time a
// state is seen by this process.
func (l *Learner) warmState(ctx context.Context, stateHash string) {
	if !l.persisting() || l.cache.hasState(stateHash) {
		return
	}
	rows, err := l.store.GetQValues(ctx, l.agent.ID, stateHash)
	if err != nil {
		l.degrade(ctx, err)
		return
	}
	for _, row := range rows {
		l.cache.put(cachedQ{
			stateHash:  row.StateHash,
			actionHash: row.ActionHash,
			value:      row.Value,
			visits:     row.VisitCount,
			confidence: row.Confidence,
			stateData:  row.StateData,
			actionData: row.ActionData,
		})
	}
}

func ensureActionHash(action *rl.Action) error {
	if action.Hash != "" {
		return nil
	}
	return encoder.HashAction(action)
}

// UpdateQValue applies the Bellman update for one observed transition and
// returns the new value. Non-terminal transitions bootstrap from the best
// known value of the next state; terminal transitions use the raw reward.
// A non-finite result is rejected: the previous value is retained and the
// anomaly logged with full context.
func (l *Learner) UpdateQValue(ctx context.Context, state *rl.State, action rl.Action, rewardValue float64, nextState *rl.State, terminal bool) (float64, error) {
	if state == nil {
		return 0, errors.New(errors.InvalidInput, "state is required")
	}
	if err := ensureActionHash(&action); err != nil {
		return 0, err
	}

	current := l.initialQValue
	visits := int64(0)
	if entry, ok := l.cache.get(state.Hash, action.Hash); ok {
		current = entry.value
		visits = entry.visits
	} else {
		l.warmState(ctx, state.Hash)
		if entry, ok := l.cache.get(state.Hash, action.Hash); ok {
			current = entry.value
			visits = entry.visits
		}
	}

	// Learning disabled or forward-compatibility mode: observe, don't update.
	if l.mode != rl.ModeFull {
		return current, nil
	}

	maxNext := 0.0
	if !terminal && nextState != nil {
		if v, ok := l.cache.maxValue(nextState.Hash); ok {
			maxNext = v
		} else if l.persisting() {
			if best, err := l.store.GetBestAction(ctx, l.agent.ID, nextState.Hash); err != nil {
				l.degrade(ctx, err)
			} else if best != nil {
				maxNext = best.Value
			}
		}
	}

	alpha := l.agent.LearningRate
	gamma := l.agent.DiscountFactor

	var newValue float64
	if terminal {
		newValue = current + alpha*(rewardValue-current)
	} else {
		newValue = current + alpha*(rewardValue+gamma*maxNext-current)
	}

	if math.IsNaN(newValue) || math.IsInf(newValue, 0) {
		err := errors.WithFields(
			errors.New(errors.DivergenceDetected, "Bellman update produced a non-finite value"),
			errors.Fields{
				"state_hash":  state.Hash,
				"action_hash": action.Hash,
				"current":     current,
				"reward":      rewardValue,
				"max_next":    maxNext,
				"terminal":    terminal,
			},
		)
		logging.GetLogger().Error(ctx, "rejecting divergent Q-value update: %v", err)
		return current, err
	}

	visits++
	evicted := l.cache.put(cachedQ{
		stateHash:  state.Hash,
		actionHash: action.Hash,
		value:      newValue,
		visits:     visits,
		confidence: rl.ConfidenceFromVisits(visits),
		stateData:  state.Features,
		actionData: actionData(action),
		dirty:      true,
	})
	l.persistEntries(ctx, evicted)

	l.mu.Lock()
	l.updatesSinceFlush++
	shouldFlush := l.updatesSinceFlush >= l.updateFrequency
	if shouldFlush {
		l.updatesSinceFlush = 0
	}
	l.mu.Unlock()

	if shouldFlush {
		l.Flush(ctx)
	}

	return newValue, nil
}

func actionData(action rl.Action) map[string]interface{} {
	data := map[string]interface{}{"id": action.ID}
	for k, v := range action.Params {
		data[k] = v
	}
	return data
}

// Flush writes all dirty cache entries to the durable store. A flush
// failure degrades the learner to in-memory operation; already written
// entries remain valid.
func (l *Learner) Flush(ctx context.Context) {
	if !l.persisting() {
		return
	}
	l.persistEntries(ctx, l.cache.takeDirty())
}

func (l *Learner) persistEntries(ctx context.Context, entries []cachedQ) {
	if !l.persisting() {
		return
	}
	for _, entry := range entries {
		_, err := l.store.UpsertQValue(ctx, store.QValueUpdate{
			AgentType:  l.agent.ID,
			StateHash:  entry.stateHash,
			StateData:  entry.stateData,
			ActionHash: entry.actionHash,
			ActionData: entry.actionData,
			Value:      entry.value,
			TTL:        l.qValueTTL,
		})
		if err != nil {
			l.degrade(ctx, err)
			return
		}
	}
}

// DecayEpsilon applies one decay step. Epsilon is monotonically
// non-increasing and never falls below the configured floor.
func (l *Learner) DecayEpsilon() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epsilon = nextEpsilon(
		l.epsilon, l.agent.ExplorationDecay, l.agent.MinExplorationRate,
		l.lastEpisodeReward, l.decayCadence,
	)
	return l.epsilon
}

// GetStatistics reports the aggregate learning surface.
func (l *Learner) GetStatistics() rl.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := rl.Statistics{
		Episodes:  l.episodes,
		TableSize: l.cache.size(),
		Epsilon:   l.epsilon,
	}
	if l.episodes > 0 {
		stats.SuccessRate = float64(l.successes) / float64(l.episodes)
		stats.AvgReward = l.rewardSum / float64(l.episodes)
	}
	return stats
}

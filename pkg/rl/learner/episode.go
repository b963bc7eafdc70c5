package learner

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/XiaoConstantine/qlearn-go/pkg/logging"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl/reward"
)

// ExecuteLearningEpisode runs one bounded learning episode: repeatedly
// encode the context, select an action, execute it through the caller's
// executor, score the transition, and update the Q-table, until the
// executor signals done or maxSteps is reached.
//
// Errors inside a step (encoding, reward, persistence) are logged and
// treated as zero-reward no-op steps; they never abort the caller's task.
// The only error returned is the caller's own context cancellation, and
// any steps already committed remain valid.
func (l *Learner) ExecuteLearningEpisode(ctx context.Context, initialContext map[string]interface{}, actionSpace []rl.Action, executor rl.ActionExecutor, maxSteps int) (*rl.EpisodeSummary, error) {
	episodeID := uuid.NewString()
	summary := &rl.EpisodeSummary{EpisodeID: episodeID}

	if l.mode == rl.ModeDisabled || len(actionSpace) == 0 || executor == nil || maxSteps < 1 {
		return summary, nil
	}

	ctx = logging.WithEpisodeID(logging.WithAgentType(ctx, l.agent.ID), episodeID)
	logger := logging.GetLogger()
	started := time.Now()

	trajectory := &rl.Trajectory{
		ID:         episodeID,
		SessionID:  l.sessionID,
		AgentType:  l.agent.ID,
		InstanceID: l.instanceID,
		StartedAt:  started,
	}

	taskContext := initialContext
	state := l.encodeOrNil(ctx, taskContext)
	if state != nil {
		trajectory.InitialStateHash = state.Hash
	}

	var (
		totalReward      float64
		discountedReward float64
		successfulSteps  int
		steps            int
		done             bool
		canceled         bool
	)

	for steps < maxSteps && !done {
		if err := ctx.Err(); err != nil {
			// Caller abandoned the episode; committed steps stay valid.
			trajectory.ErrorNote = err.Error()
			canceled = true
			break
		}

		action, err := l.SelectAction(ctx, taskContext, actionSpace)
		if err != nil {
			logger.Warn(ctx, "action selection failed, skipping step: %v", err)
			steps++
			continue
		}

		result, err := executor(ctx, action, taskContext)
		if err != nil || result == nil {
			logger.Warn(ctx, "action executor failed, recording zero-reward step: %v", err)
			trajectory.Steps = append(trajectory.Steps, rl.TrajectoryStep{
				StateHash:  stateHashOrEmpty(state),
				ActionID:   action.ID,
				ActionHash: action.Hash,
				Timestamp:  time.Now(),
			})
			steps++
			continue
		}

		nextState := l.encodeOrNil(ctx, result.NextContext)

		stepReward := l.rewards.Calculate(l.agent.ID, state, action, nextState, rewardOutcome(result))
		if result.Success {
			successfulSteps++
		}

		if state != nil {
			if _, err := l.UpdateQValue(ctx, state, action, stepReward, nextState, result.Done); err != nil {
				// Already logged with full context; the step still counts.
				logger.Debug(ctx, "Q-value update skipped for step %d", steps)
			}
		}

		trajectory.Steps = append(trajectory.Steps, rl.TrajectoryStep{
			StateHash:  stateHashOrEmpty(state),
			ActionID:   action.ID,
			ActionHash: action.Hash,
			Reward:     stepReward,
			Timestamp:  time.Now(),
		})

		totalReward += stepReward
		discountedReward += math.Pow(l.agent.DiscountFactor, float64(steps)) * stepReward
		steps++
		done = result.Done

		if l.decayCadence == DecayPerStep {
			l.DecayEpsilon()
		}

		taskContext = result.NextContext
		state = nextState
	}

	duration := time.Since(started)
	succeeded := done && successfulSteps > 0

	trajectory.FinalStateHash = stateHashOrEmpty(state)
	trajectory.TotalReward = totalReward
	trajectory.DiscountedReward = discountedReward
	trajectory.Duration = duration
	trajectory.Success = succeeded
	trajectory.CompletedAt = time.Now()

	l.recordEpisode(ctx, trajectory, totalReward, succeeded)

	if l.decayCadence != DecayPerStep {
		l.mu.Lock()
		l.lastEpisodeReward = totalReward
		l.mu.Unlock()
		l.DecayEpsilon()
	}

	summary.Steps = steps
	summary.TotalReward = totalReward
	summary.DiscountedReward = discountedReward
	summary.Duration = duration
	summary.Done = done
	if steps > 0 {
		summary.SuccessRate = float64(successfulSteps) / float64(steps)
	}

	if canceled {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (l *Learner) encodeOrNil(ctx context.Context, taskContext map[string]interface{}) *rl.State {
	if taskContext == nil {
		return nil
	}
	state, err := l.encoder.Encode(l.agent.ID, taskContext)
	if err != nil {
		logging.GetLogger().Warn(ctx, "state encoding failed, step will not learn: %v", err)
		return nil
	}
	return state
}

func stateHashOrEmpty(state *rl.State) string {
	if state == nil {
		return ""
	}
	return state.Hash
}

func rewardOutcome(result *rl.ExecutionResult) reward.Outcome {
	return reward.Outcome{
		Metrics:  result.Metrics,
		Terminal: result.Done,
		Success:  result.Done && result.Success,
		Failed:   result.Done && !result.Success,
	}
}

// recordEpisode persists the trajectory and instance bookkeeping, updates
// aggregate statistics, and flushes the cache. Persistence failures
// degrade silently; the episode outcome is unaffected.
func (l *Learner) recordEpisode(ctx context.Context, trajectory *rl.Trajectory, totalReward float64, succeeded bool) {
	l.mu.Lock()
	l.episodes++
	if succeeded {
		l.successes++
	}
	l.rewardSum += totalReward
	episodes := l.episodes
	successes := l.successes
	rewardSum := l.rewardSum
	epsilon := l.epsilon
	l.mu.Unlock()

	if l.mode == rl.ModeEphemeral {
		l.trajMu.Lock()
		l.trajectories = append(l.trajectories, trajectory)
		l.trajMu.Unlock()
		return
	}

	if !l.persisting() {
		return
	}

	l.Flush(ctx)

	if err := l.store.StoreTrajectory(ctx, trajectory); err != nil {
		l.degrade(ctx, err)
		return
	}

	state := &rl.LearningState{
		AgentType:        l.agent.ID,
		InstanceID:       l.instanceID,
		Epsilon:          epsilon,
		CumulativeReward: rewardSum,
		AverageReward:    rewardSum / float64(episodes),
		TasksTotal:       episodes,
		TasksSucceeded:   successes,
		TasksFailed:      episodes - successes,
		LastActivity:     time.Now(),
	}
	if err := l.store.SaveLearningState(ctx, state); err != nil {
		l.degrade(ctx, err)
	}
}

// Trajectories returns episodes buffered in ephemeral mode.
func (l *Learner) Trajectories() []*rl.Trajectory {
	l.trajMu.Lock()
	defer l.trajMu.Unlock()
	out := make([]*rl.Trajectory, len(l.trajectories))
	copy(out, l.trajectories)
	return out
}

// RunEpisodes executes one learning episode per context on a bounded
// worker pool. Episodes are independent; the store's atomic upsert is the
// only cross-episode coordination.
func (l *Learner) RunEpisodes(ctx context.Context, contexts []map[string]interface{}, actionSpace []rl.Action, executor rl.ActionExecutor, maxSteps, maxConcurrent int) []*rl.EpisodeSummary {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	summaries := make([]*rl.EpisodeSummary, len(contexts))

	p := pool.New().WithMaxGoroutines(maxConcurrent)
	for i, taskContext := range contexts {
		i, taskContext := i, taskContext
		p.Go(func() {
			summary, err := l.ExecuteLearningEpisode(ctx, taskContext, actionSpace, executor, maxSteps)
			if err != nil {
				logging.GetLogger().Debug(ctx, "episode %d ended early: %v", i, err)
			}
			summaries[i] = summary
		})
	}
	p.Wait()

	return summaries
}

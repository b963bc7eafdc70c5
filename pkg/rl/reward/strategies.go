package reward

import (
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// F1Strategy scores verifier-style agents from classification counts
// rather than the generic weighted components. The F1 score in [0,1] is
// mapped onto the component scale, with the usual terminal adjustments.
type F1Strategy struct{}

func (F1Strategy) Calculate(before *rl.State, action rl.Action, after *rl.State, outcome Outcome) float64 {
	m := outcome.Metrics

	value := (2*f1Score(m.TruePositives, m.FalsePositives, m.FalseNegatives) - 1) * componentScale

	if outcome.Terminal {
		if outcome.Success {
			value += SuccessBonus
		} else if outcome.Failed {
			value += FailurePenalty
		}
	}

	return Clamp(value)
}

// f1Score computes the harmonic mean of precision and recall.
// With no positives at all the score is zero.
func f1Score(tp, fp, fn int) float64 {
	if tp == 0 {
		return 0
	}
	precision := float64(tp) / float64(tp+fp)
	recall := float64(tp) / float64(tp+fn)
	return 2 * precision * recall / (precision + recall)
}

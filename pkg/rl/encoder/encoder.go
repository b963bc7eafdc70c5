// Package encoder converts arbitrary task-context records into canonical,
// discretized states with deterministic fingerprints. Determinism is the
// core correctness property: two semantically identical contexts, in any
// key order, with numeric values in the same bucket, must produce the
// same state hash.
package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
	"github.com/XiaoConstantine/qlearn-go/pkg/rl"
)

// FeatureStrategy contributes agent-type-specific discrete features layered
// on top of the common buckets. Strategies must be pure: same context in,
// same features out.
type FeatureStrategy interface {
	// Features returns extra feature name -> discrete value pairs for the context.
	Features(context map[string]interface{}) map[string]string
}

// Encoder maps task contexts to canonical states. Safe for concurrent use.
type Encoder struct {
	mu         sync.RWMutex
	strategies map[string]FeatureStrategy
}

// New creates an encoder with no agent-type strategies registered.
func New() *Encoder {
	return &Encoder{
		strategies: make(map[string]FeatureStrategy),
	}
}

// RegisterStrategy attaches a feature strategy for an agent type,
// replacing any previous registration.
func (e *Encoder) RegisterStrategy(agentType string, s FeatureStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[agentType] = s
}

// Encode converts a task context into a canonical State for the agent type.
// Malformed contexts (non-serializable values) yield an EncodingFailed
// error; callers treat this as non-fatal and skip learning for the step.
func (e *Encoder) Encode(agentType string, context map[string]interface{}) (*rl.State, error) {
	features, err := e.features(agentType, context)
	if err != nil {
		return nil, err
	}

	hash, err := hashFeatures(features)
	if err != nil {
		return nil, err
	}

	return &rl.State{Features: features, Hash: hash}, nil
}

func (e *Encoder) features(agentType string, context map[string]interface{}) (map[string]string, error) {
	features := make(map[string]string)

	// Every known bucketed feature gets a value, defaulting when absent,
	// so absent optional fields never change the feature set shape.
	for name, spec := range commonBuckets {
		raw, ok := context[name]
		if !ok || raw == nil {
			features[name] = spec.defaultLabel
			continue
		}
		if f, ok := asFloat(raw); ok {
			features[name] = spec.bucket(f)
			continue
		}
		// A categorical value under a bucketed name is taken as-is after
		// normalization (callers may pre-bucket on their side).
		v, err := canonicalValue(raw)
		if err != nil {
			return nil, encodingError(err, name, raw)
		}
		features[name] = v
	}

	for name, raw := range context {
		if _, bucketed := commonBuckets[name]; bucketed {
			continue
		}
		if raw == nil {
			continue
		}
		if f, ok := asFloat(raw); ok {
			features[name] = genericNumeric.bucket(f)
			continue
		}
		v, err := canonicalValue(raw)
		if err != nil {
			return nil, encodingError(err, name, raw)
		}
		features[name] = v
	}

	e.mu.RLock()
	strategy := e.strategies[agentType]
	e.mu.RUnlock()

	if strategy != nil {
		for name, value := range strategy.Features(context) {
			features[name] = value
		}
	}

	return features, nil
}

// HashAction fingerprints an action's identifier and parameters with the
// same canonicalization scheme used for states, filling in Action.Hash.
func HashAction(action *rl.Action) error {
	features := map[string]string{"action_id": action.ID}
	for name, raw := range action.Params {
		if raw == nil {
			continue
		}
		v, err := canonicalValue(raw)
		if err != nil {
			return encodingError(err, name, raw)
		}
		features["param."+name] = v
	}

	hash, err := hashFeatures(features)
	if err != nil {
		return err
	}
	action.Hash = hash
	return nil
}

// hashFeatures serializes features with lexicographically sorted keys and
// applies SHA-256, yielding a fixed-length hex digest.
func hashFeatures(features map[string]string) (string, error) {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(features[k])
		b.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalValue normalizes a context value to canonical textual form.
// Booleans and strings pass through; composite values are serialized as
// sorted-key JSON. Non-serializable values are rejected.
func canonicalValue(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v)), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		// json.Marshal writes map keys in sorted order, which keeps
		// composite values canonical.
		data, err := json.Marshal(raw)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func encodingError(err error, field string, value interface{}) error {
	return errors.WithFields(
		errors.Wrap(err, errors.EncodingFailed, "context cannot be canonicalized"),
		errors.Fields{
			"field":      field,
			"value_type": fmt.Sprintf("%T", value),
		},
	)
}

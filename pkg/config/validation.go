package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/XiaoConstantine/qlearn-go/pkg/errors"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Tag     string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "gt", "gte":
		return fmt.Sprintf("%s is below its minimum", e.Field)
	case "lt", "lte":
		return fmt.Sprintf("%s is above its maximum", e.Field)
	case "oneof":
		return fmt.Sprintf("%s must be one of the allowed values", e.Field)
	default:
		return fmt.Sprintf("%s failed validation", e.Field)
	}
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

var validate = validator.New()

// Validate checks a configuration against the struct tags plus the custom
// rules the tags cannot express. Failures are fatal at load time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ConfigurationInvalid, "config is nil")
	}

	var validationErrors ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				validationErrors = append(validationErrors, ValidationError{
					Field: e.Field(),
					Tag:   e.Tag(),
					Value: e.Value(),
				})
			}
		} else {
			validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
		}
	}

	validationErrors = append(validationErrors, customRules(cfg)...)

	if len(validationErrors) > 0 {
		return errors.Wrap(validationErrors, errors.ConfigurationInvalid, "invalid learning configuration")
	}
	return nil
}

func customRules(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	checkAgent := func(name string, agent AgentConfig) {
		if agent.MinExplorationRate > agent.ExplorationRate {
			errs = append(errs, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("%s: min_exploration_rate exceeds exploration_rate", name),
			})
		}
		if agent.RewardWeights != nil {
			sum := agent.RewardWeights.Sum()
			if math.Abs(sum-1.0) > 0.01 {
				errs = append(errs, ValidationError{
					Field:   name,
					Message: fmt.Sprintf("%s: reward weights sum to %.3f, expected 1.0", name, sum),
				})
			}
		}
	}

	checkAgent("defaults", cfg.Defaults)
	for id, agent := range cfg.Agents {
		checkAgent("agents."+id, agent)
	}

	return errs
}

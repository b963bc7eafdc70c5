package encoder

// Built-in feature strategies for the specialized agent roles. These are
// registered by identifier, not subclassed; callers can register their own
// strategies for custom agent types.

// FailurePatternStrategy categorizes a "failure_pattern" context field into
// a small closed set and records whether external dependencies are present.
// Used by repair-style agents whose action choice depends on failure class.
type FailurePatternStrategy struct{}

var knownFailurePatterns = map[string]struct{}{
	"assertion":  {},
	"timeout":    {},
	"flaky":      {},
	"dependency": {},
	"regression": {},
}

func (FailurePatternStrategy) Features(context map[string]interface{}) map[string]string {
	features := make(map[string]string, 2)

	pattern := "none"
	if raw, ok := context["failure_pattern"].(string); ok && raw != "" {
		if _, known := knownFailurePatterns[raw]; known {
			pattern = raw
		} else {
			pattern = "other"
		}
	}
	features["failure_pattern"] = pattern

	hasDeps := "false"
	switch deps := context["external_dependencies"].(type) {
	case bool:
		if deps {
			hasDeps = "true"
		}
	case []interface{}:
		if len(deps) > 0 {
			hasDeps = "true"
		}
	case []string:
		if len(deps) > 0 {
			hasDeps = "true"
		}
	}
	features["has_external_dependencies"] = hasDeps

	return features
}

// VerifierStrategy adds the review depth requested for verification agents,
// defaulting to a standard pass.
type VerifierStrategy struct{}

func (VerifierStrategy) Features(context map[string]interface{}) map[string]string {
	depth := "standard"
	if raw, ok := context["review_depth"].(string); ok {
		switch raw {
		case "shallow", "standard", "deep":
			depth = raw
		}
	}
	return map[string]string{"review_depth": depth}
}

package logging

// LogEntry represents a structured log record with fields relevant to learning operations.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Learning-specific fields
	AgentType string // The agent type emitting the record
	EpisodeID string // The episode the record belongs to, if any
	Latency   int64  // Operation duration in milliseconds

	// General structured data
	Fields map[string]interface{}
}

package core

import "strings"

// Environment is the deployment stage the orchestrator runs in. It picks the
// log format and whether debug stream events are on by default.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// StructuredLogs reports whether logs are written as JSON lines instead of
// the console format.
func (e Environment) StructuredLogs() bool {
	return e == Production || e == Staging
}

// DebugEvents reports whether debug events reach the client even when the
// request did not ask for them.
func (e Environment) DebugEvents() bool {
	return e == Development
}

// ParseEnvironment accepts the stage names and their short forms ("dev",
// "stage", "prod"), case-insensitively. Anything else is Development.
func ParseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "prod", "production":
		return Production
	case "stage", "staging":
		return Staging
	default:
		return Development
	}
}

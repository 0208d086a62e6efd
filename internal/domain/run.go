package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidRunID = errors.New("invalid run id")

const (
	maxRunIDLen   = 200
	jobNamePrefix = "gatling-run-"
	maxJobNameLen = 63
)

// State is derived from the workspace; it is never stored by the coordinator.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// NewRunID returns sanitize(scenario) + "-" + unix millis of issuedAt.
func NewRunID(scenario string, issuedAt time.Time) string {
	return SanitizeScenario(scenario) + "-" + strconv.FormatInt(issuedAt.UnixMilli(), 10)
}

// SanitizeScenario replaces every byte outside [A-Za-z0-9._-] with '-'.
func SanitizeScenario(scenario string) string {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		return "run"
	}
	var b strings.Builder
	b.Grow(len(scenario))
	for i := 0; i < len(scenario); i++ {
		c := scenario[i]
		if isSafe(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// ValidateRunID rejects ids that are unsafe as a path segment or storage key.
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	if len(runID) > maxRunIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidRunID, maxRunIDLen)
	}
	if runID == "." || runID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	for i := 0; i < len(runID); i++ {
		if !isSafe(runID[i]) {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidRunID, runID[i])
		}
	}
	return nil
}

// JobName derives the orchestration job name from a run id. The mapping is
// deterministic so a second submission for the same run collides with the
// first. Ids that are not already valid job names (upper case, '.', '_', a
// trailing '-' or too long) get an 8 hex char sha256 suffix so two distinct
// runs never share a job.
func JobName(runID string) string {
	var b strings.Builder
	b.WriteString(jobNamePrefix)
	lossy := false
	for i := 0; i < len(runID); i++ {
		c := runID[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
			lossy = true
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('-')
			lossy = true
		}
	}
	name := b.String()
	if strings.HasSuffix(name, "-") {
		lossy = true
	}
	if !lossy && len(name) <= maxJobNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(runID))
	suffix := hex.EncodeToString(sum[:4])
	if limit := maxJobNameLen - len(suffix) - 1; len(name) > limit {
		name = name[:limit]
	}
	return strings.TrimRight(name, "-") + "-" + suffix
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.'
}

package domain

import "time"

// RunRecord is the structured state record a worker keeps next to the log.
// Unlike the DONE marker it carries the engine exit code and upload outcome.
type RunRecord struct {
	RunID      string        `json:"run_id"`
	Scenario   string        `json:"scenario"`
	State      State         `json:"state"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Upload     *UploadRecord `json:"upload,omitempty"`
}

type UploadRecord struct {
	Bucket      string    `json:"bucket"`
	Prefix      string    `json:"prefix"`
	Uploaded    int       `json:"uploaded"`
	Failed      int       `json:"failed"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded reports whether the engine exited with code 0.
func (r RunRecord) Succeeded() bool {
	return r.ExitCode != nil && *r.ExitCode == 0
}

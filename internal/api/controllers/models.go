package controllers

import "time"

// PullRequest is the optional body of a pull call. An empty version means the
// newest catalog entry for the model id.
type PullRequest struct {
	Version string `json:"version,omitempty"`
}

// PullResponse acknowledges an accepted acquisition.
type PullResponse struct {
	TaskID  string `json:"task_id"`
	ModelID string `json:"model_id"`
}

// TaskResponse describes one acquisition task.
type TaskResponse struct {
	ID        string `json:"id"`
	ModelID   string `json:"model_id"`
	Stage     string `json:"stage"`
	Resumable bool   `json:"resumable"`
	Error     string `json:"error,omitempty"`
}

// ModelResponse describes one acquired model on disk.
type ModelResponse struct {
	ModelID    string    `json:"model_id"`
	LocalPath  string    `json:"local_path"`
	SizeBytes  int64     `json:"size_bytes"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ErrorResponse carries an error message to the client.
type ErrorResponse struct {
	Error string `json:"error"`
}

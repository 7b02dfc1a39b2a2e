// Package types holds the JSON bodies exchanged with the pagekeeper API.
package types

import "time"

// SavePageRequest asks for a page to be kept for offline reading.
type SavePageRequest struct {
	Site      string     `json:"site" binding:"required"`
	Namespace string     `json:"namespace,omitempty"`
	Title     string     `json:"title" binding:"required"`
	SavedAt   *time.Time `json:"saved_at,omitempty"`
}

// TaskResponse acknowledges an accepted asynchronous operation.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatus mirrors the executor's task states.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// StatusResponse represents the response to a task status query
type StatusResponse struct {
	TaskID    string     `json:"task_id"`
	Name      string     `json:"name"`
	Mode      string     `json:"mode"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SavedPage is one saved page as returned by the API.
type SavedPage struct {
	Site          string    `json:"site"`
	Namespace     string    `json:"namespace,omitempty"`
	Title         string    `json:"title"`
	PrefixedTitle string    `json:"prefixed_title"`
	SavedAt       time.Time `json:"saved_at"`
}

// SavedPageList is the response to a saved page listing.
type SavedPageList struct {
	Pages []SavedPage `json:"pages"`
	Count int         `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	ActiveTasks  int       `json:"active_tasks"`
	StoreVersion int       `json:"store_version"`
}

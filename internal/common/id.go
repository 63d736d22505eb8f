package common

import (
	"github.com/google/uuid"
)

// NewSearchID generates a unique search record ID with the "search_" prefix
// Format: search_<uuid>
func NewSearchID() string {
	return "search_" + uuid.New().String()
}

// NewWorkerID generates a unique worker instance ID
// Format: worker_<uuid>
func NewWorkerID() string {
	return "worker_" + uuid.New().String()
}

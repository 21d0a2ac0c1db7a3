package models

import (
	"encoding/json"
	"time"
)

// ProcessingJob asks a worker to run the ingestion pipeline for one decision.
type ProcessingJob struct {
	URL        string    `json:"url"`
	DecisionID string    `json:"decision_id"`
	ChannelKey string    `json:"channel_key"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (j ProcessingJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

func JobFromJSON(data []byte) (ProcessingJob, error) {
	var job ProcessingJob
	err := json.Unmarshal(data, &job)
	return job, err
}

package models

type EventStatus string

const (
	EventStarted           EventStatus = "started"
	EventTextExtracted     EventStatus = "text_extracted"
	EventMetadataExtracted EventStatus = "metadata_extracted"
	EventChunksCreated     EventStatus = "chunks_created"
	EventDocumentsSaved    EventStatus = "documents_saved"
	EventDone              EventStatus = "done"
	EventAlreadyDone       EventStatus = "already_done"
	EventError             EventStatus = "error"
)

// ProgressEvent is published to a caller's channel at every pipeline stage boundary.
type ProgressEvent struct {
	DecisionID string      `json:"decision_id"`
	Status     EventStatus `json:"status"`
	Detail     string      `json:"detail"`
}

// Terminal reports whether no further events follow for this decision and job.
func (e ProgressEvent) Terminal() bool {
	switch e.Status {
	case EventDone, EventAlreadyDone, EventError:
		return true
	}
	return false
}

package dashboard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/dbsync/internal/orchestrator"
)

// OperationData describes an operation in a message.
type OperationData struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	Category   string     `json:"category,omitempty"`
	FailedStep string     `json:"failed_step,omitempty"`
	Skipped    []string   `json:"skipped,omitempty"`
	Backup     string     `json:"backup,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusData is the payload of the welcome message.
type StatusData struct {
	Syncing   bool           `json:"syncing"`
	Operation *OperationData `json:"operation,omitempty"`
}

func operationData(op orchestrator.Operation) OperationData {
	d := OperationData{
		ID:         op.ID,
		Kind:       string(op.Kind),
		Trigger:    string(op.Trigger),
		Status:     string(op.Status),
		Progress:   op.Progress,
		Message:    op.Message,
		FailedStep: string(op.FailedStep),
		Skipped:    op.Skipped,
		Backup:     op.Backup,
		StartedAt:  op.StartedAt,
	}
	if op.Err != nil {
		d.Error = op.Err.Error()
		d.Category = string(orchestrator.Classify(op.Err))
	}
	if !op.FinishedAt.IsZero() {
		finished := op.FinishedAt
		d.FinishedAt = &finished
	}
	return d
}

func eventMessage(ev orchestrator.Event) (Message, error) {
	var typ MessageType
	switch ev.Type {
	case orchestrator.EventStarted:
		typ = MessageTypeSyncStarted
	case orchestrator.EventProgress:
		typ = MessageTypeSyncProgress
	case orchestrator.EventFinished:
		typ = MessageTypeSyncFinished
	default:
		return Message{}, fmt.Errorf("unknown event type %q", ev.Type)
	}

	data, err := json.Marshal(operationData(ev.Operation))
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: ev.Time, Data: data}, nil
}

func (s *Server) statusMessage() (Message, error) {
	status := StatusData{Syncing: s.source.IsSyncing()}
	if op, ok := s.source.CurrentStatus(); ok {
		d := operationData(op)
		status.Operation = &d
	}

	data, err := json.Marshal(status)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}, nil
}

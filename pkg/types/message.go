package types

import "time"

// MessageType classifies substrate messages.
type MessageType string

const (
	MessageTypeTaskAssignment MessageType = "task_assignment"
	MessageTypeNotification   MessageType = "notification"
	MessageTypeStatusUpdate   MessageType = "status_update"
	MessageTypeDirect         MessageType = "direct"
)

// Message is a single inter-agent message. Every send travels two ways: an
// ephemeral broadcast for live listeners and a durable per-recipient record
// that survives restarts. Durable copies are archived on read, so each one
// is handed to exactly one reader under normal operation.
type Message struct {
	ID        string                 `json:"id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Type      MessageType            `json:"type"`
	Content   map[string]interface{} `json:"content,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// TaskAssignment builds the message delivered to an agent when a task is
// routed to it.
func TaskAssignment(task *TaskRequest, agentID string) *Message {
	return &Message{
		From: "coordinator",
		To:   agentID,
		Type: MessageTypeTaskAssignment,
		Content: map[string]interface{}{
			"task_id":         task.ID,
			"task_type":       task.Type,
			"description":     task.Description,
			"priority":        task.Priority.String(),
			"required_skills": task.RequiredSkills,
		},
		Timestamp: time.Now(),
	}
}

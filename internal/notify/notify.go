// Package notify turns committed audit events into user notifications.
// Delivery is best effort: the engine commits first, the dispatcher
// tails the event log afterwards, and a failed delivery never rolls
// anything back.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"grievline/internal/domain"
	"grievline/internal/repo"
)

// Message is one notification to deliver. An empty UserID means a
// public broadcast.
type Message struct {
	UserID      string `json:"user_id,omitempty"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	GrievanceID string `json:"grievance_id,omitempty"`
	EventID     int64  `json:"event_id"`
}

// Sender delivers one message over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// StoreSender persists messages so users can read them in app.
type StoreSender struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s StoreSender) Name() string { return "store" }

func (s StoreSender) Send(ctx context.Context, msg Message) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Repo.InsertNotification(ctx, domain.Notification{
		ID:        uuid.New().String(),
		UserID:    optionalString(msg.UserID),
		Title:     msg.Title,
		Body:      msg.Body,
		Kind:      msg.Kind,
		CreatedAt: now().UTC().Format(time.RFC3339),
	})
}

// LogSender writes messages to the structured log. Useful on its own in
// development and as a delivery audit trail in production.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Name() string { return "log" }

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"grievance_id", msg.GrievanceID,
		"title", msg.Title,
	)
	return nil
}

// eventPayload is the superset of fields the engine writes into event
// payloads that notifications care about.
type eventPayload struct {
	Title        string `json:"title"`
	From         string `json:"from"`
	To           string `json:"to"`
	Note         string `json:"note"`
	SubmitterID  string `json:"submitter_id"`
	DepartmentID string `json:"department_id"`
	AssigneeID   string `json:"assignee_id"`
	Reassigned   bool   `json:"reassigned"`
	Internal     bool   `json:"internal"`
}

// MessagesFor maps one audit event to the notifications it implies.
// Events that concern nobody return an empty slice.
func MessagesFor(evt domain.Event) []Message {
	var p eventPayload
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &p)
	}
	switch evt.Type {
	case "grievance.submitted":
		if p.SubmitterID == "" {
			return nil
		}
		return []Message{{
			UserID:      p.SubmitterID,
			Kind:        "submission",
			Title:       "Grievance received",
			Body:        fmt.Sprintf("%q was filed and is awaiting review.", p.Title),
			GrievanceID: evt.EntityID,
			EventID:     evt.ID,
		}}
	case "grievance.status_changed":
		if p.SubmitterID == "" {
			return nil
		}
		body := fmt.Sprintf("%q moved from %s to %s.", p.Title, p.From, p.To)
		if p.Note != "" {
			body += " Note: " + p.Note
		}
		return []Message{{
			UserID:      p.SubmitterID,
			Kind:        "status",
			Title:       "Status updated to " + p.To,
			Body:        body,
			GrievanceID: evt.EntityID,
			EventID:     evt.ID,
		}}
	case "grievance.assigned":
		var msgs []Message
		if p.SubmitterID != "" {
			verb := "assigned to"
			if p.Reassigned {
				verb = "reassigned to"
			}
			msgs = append(msgs, Message{
				UserID:      p.SubmitterID,
				Kind:        "assignment",
				Title:       "Grievance " + verb + " " + p.DepartmentID,
				Body:        fmt.Sprintf("%q is now handled by %s.", p.Title, p.DepartmentID),
				GrievanceID: evt.EntityID,
				EventID:     evt.ID,
			})
		}
		if p.AssigneeID != "" && p.AssigneeID != evt.ActorID {
			msgs = append(msgs, Message{
				UserID:      p.AssigneeID,
				Kind:        "assignment",
				Title:       "Grievance assigned to you",
				Body:        fmt.Sprintf("%q was routed to your queue.", p.Title),
				GrievanceID: evt.EntityID,
				EventID:     evt.ID,
			})
		}
		return msgs
	case "grievance.commented":
		// Internal notes never reach the submitter, and nobody needs
		// an alert about their own comment.
		if p.Internal || p.SubmitterID == "" || p.SubmitterID == evt.ActorID {
			return nil
		}
		return []Message{{
			UserID:      p.SubmitterID,
			Kind:        "comment",
			Title:       "New comment on your grievance",
			GrievanceID: evt.EntityID,
			EventID:     evt.ID,
		}}
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

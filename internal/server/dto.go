package server

import (
	"encoding/json"

	"grievline/internal/domain"
)

// Request payloads

type SubmitGrievanceRequest struct {
	ID           *string  `json:"id,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Priority     string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Address      *string  `json:"address,omitempty"`
	Constituency *string  `json:"constituency,omitempty"`
	SubmitterID  *string  `json:"submitter_id,omitempty"`
	Attachments  []string `json:"attachments,omitempty"`
}

type UpdateStatusRequest struct {
	Status string  `json:"status" enum:"submitted,under_review,assigned,in_progress,resolved,rejected,withdrawn"`
	Note   *string `json:"note,omitempty"`
}

type AssignRequest struct {
	DepartmentID *string `json:"department_id,omitempty"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	Note         *string `json:"note,omitempty"`
}

type AddCommentRequest struct {
	Body     string `json:"body"`
	Internal bool   `json:"internal,omitempty"`
}

type CreateDepartmentRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpsertUserRequest struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty" enum:"citizen,staff,admin"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type CreateAPIKeyRequest struct {
	UserID *string `json:"user_id,omitempty"`
	Name   string  `json:"name,omitempty"`
}

// Response payloads

type GrievanceResponse struct {
	ID                   string               `json:"id"`
	SubmitterID          string               `json:"submitter_id"`
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	Address              *string              `json:"address,omitempty"`
	Constituency         *string              `json:"constituency,omitempty"`
	Category             string               `json:"category"`
	Priority             string               `json:"priority" enum:"low,medium,high,urgent"`
	Status               string               `json:"status" enum:"submitted,under_review,assigned,in_progress,resolved,rejected,withdrawn"`
	AssignedDepartmentID *string              `json:"assigned_department_id,omitempty"`
	AssignedUserID       *string              `json:"assigned_user_id,omitempty"`
	Attachments          []string             `json:"attachments,omitempty"`
	History              []TransitionResponse `json:"history,omitempty"`
	Version              int64                `json:"version"`
	CreatedAt            string               `json:"created_at" format:"date-time"`
	UpdatedAt            string               `json:"updated_at" format:"date-time"`
	ResolvedAt           *string              `json:"resolved_at,omitempty" format:"date-time"`
}

type TransitionResponse struct {
	Seq     int64  `json:"seq"`
	From    string `json:"from_status"`
	To      string `json:"to_status"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note,omitempty"`
	TS      string `json:"ts" format:"date-time"`
}

type CommentResponse struct {
	ID          string `json:"id"`
	GrievanceID string `json:"grievance_id"`
	AuthorID    string `json:"author_id"`
	Body        string `json:"body"`
	Internal    bool   `json:"internal"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type DepartmentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role" enum:"citizen,staff,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type NotificationResponse struct {
	ID        string  `json:"id"`
	UserID    *string `json:"user_id,omitempty"`
	Kind      string  `json:"kind"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type StatsResponse struct {
	TotalCount               int64            `json:"total_count"`
	CountByStatus            map[string]int64 `json:"count_by_status"`
	CountByDepartment        map[string]int64 `json:"count_by_department"`
	CountByPriority          map[string]int64 `json:"count_by_priority"`
	AverageResolutionSeconds *float64         `json:"average_resolution_seconds,omitempty"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role" enum:"citizen,staff,admin"`
	Source string `json:"source"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// APIKeyCreatedResponse carries the plaintext key. It is shown exactly
// once; only the hash is stored.
type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedGrievances struct {
	Items      []GrievanceResponse `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items       []NotificationResponse `json:"items"`
	UnreadCount int64                  `json:"unread_count"`
	NextCursor  string                 `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func grievanceResponse(g domain.Grievance) GrievanceResponse {
	history := make([]TransitionResponse, 0, len(g.History))
	for _, tr := range g.History {
		history = append(history, transitionResponse(tr))
	}
	if len(history) == 0 {
		history = nil
	}
	return GrievanceResponse{
		ID:                   g.ID,
		SubmitterID:          g.SubmitterID,
		Title:                g.Title,
		Description:          g.Description,
		Address:              g.Address,
		Constituency:         g.Constituency,
		Category:             g.Category,
		Priority:             string(g.Priority),
		Status:               string(g.Status),
		AssignedDepartmentID: g.AssignedDepartmentID,
		AssignedUserID:       g.AssignedUserID,
		Attachments:          decodeStringSlice(g.AttachmentsJSON),
		History:              history,
		Version:              g.Version,
		CreatedAt:            g.CreatedAt,
		UpdatedAt:            g.UpdatedAt,
		ResolvedAt:           g.ResolvedAt,
	}
}

func transitionResponse(tr domain.Transition) TransitionResponse {
	return TransitionResponse{
		Seq:     tr.Seq,
		From:    string(tr.From),
		To:      string(tr.To),
		ActorID: tr.ActorID,
		Note:    tr.Note,
		TS:      tr.TS,
	}
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse(c)
}

func departmentResponse(d domain.Department) DepartmentResponse {
	return DepartmentResponse(d)
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func statsResponse(s domain.Stats) StatsResponse {
	byStatus := make(map[string]int64, len(s.CountByStatus))
	for k, v := range s.CountByStatus {
		byStatus[string(k)] = v
	}
	byPriority := make(map[string]int64, len(s.CountByPriority))
	for k, v := range s.CountByPriority {
		byPriority[string(k)] = v
	}
	return StatsResponse{
		TotalCount:               s.TotalCount,
		CountByStatus:            byStatus,
		CountByDepartment:        s.CountByDepartment,
		CountByPriority:          byPriority,
		AverageResolutionSeconds: s.AverageResolutionSeconds,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		UserID:    k.UserID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapGrievances(items []domain.Grievance) []GrievanceResponse {
	res := make([]GrievanceResponse, 0, len(items))
	for _, g := range items {
		res = append(res, grievanceResponse(g))
	}
	return res
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func decodeStringSlice(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(*raw), &arr); err != nil {
		return nil
	}
	return arr
}

func strPtr(in string) *string {
	return &in
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

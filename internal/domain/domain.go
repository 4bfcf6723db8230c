package domain

// Status is the lifecycle position of a grievance. Transitions between
// statuses are validated by the status package and recorded in History.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in_progress"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
	StatusWithdrawn   Status = "withdrawn"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusSubmitted,
		StatusUnderReview,
		StatusAssigned,
		StatusInProgress,
		StatusResolved,
		StatusRejected,
		StatusWithdrawn,
	}
}

// ParseStatus validates a wire value.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Role string

const (
	RoleCitizen Role = "citizen"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCitizen, RoleStaff, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), true
	}
	return "", false
}

type Grievance struct {
	ID                   string       `json:"id"`
	SubmitterID          string       `json:"submitter_id"`
	Title                string       `json:"title"`
	Description          string       `json:"description"`
	Address              *string      `json:"address,omitempty"`
	Constituency         *string      `json:"constituency,omitempty"`
	Category             string       `json:"category"`
	Priority             Priority     `json:"priority" enum:"low,medium,high,urgent"`
	Status               Status       `json:"status" enum:"submitted,under_review,assigned,in_progress,resolved,rejected,withdrawn"`
	AssignedDepartmentID *string      `json:"assigned_department_id,omitempty"`
	AssignedUserID       *string      `json:"assigned_user_id,omitempty"`
	AttachmentsJSON      *string      `json:"attachments_json,omitempty"`
	History              []Transition `json:"history,omitempty"`
	Version              int64        `json:"version"`
	CreatedAt            string       `json:"created_at" format:"date-time"`
	UpdatedAt            string       `json:"updated_at" format:"date-time"`
	ResolvedAt           *string      `json:"resolved_at,omitempty" format:"date-time"`
}

// Transition is one append-only history entry. Reassignments keep
// From == To; every other entry changes the status.
type Transition struct {
	GrievanceID string `json:"grievance_id"`
	Seq         int64  `json:"seq"`
	From        Status `json:"from_status"`
	To          Status `json:"to_status"`
	ActorID     string `json:"actor_id"`
	Note        string `json:"note,omitempty"`
	TS          string `json:"ts" format:"date-time"`
}

// Comment is a thread entry on a grievance. Internal comments are staff
// notes hidden from the submitter.
type Comment struct {
	ID          string `json:"id"`
	GrievanceID string `json:"grievance_id"`
	AuthorID    string `json:"author_id"`
	Body        string `json:"body"`
	Internal    bool   `json:"internal"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role" enum:"citizen,staff,admin"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// AdminCredential backs password login for admin users. Citizens and
// staff authenticate elsewhere; the engine only verifies identity.
type AdminCredential struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Notification rows are written by the store sender; UserID nil means a
// public broadcast.
type Notification struct {
	ID        string  `json:"id"`
	UserID    *string `json:"user_id,omitempty"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	Kind      string  `json:"kind"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Stats is the dashboard summary. AverageResolutionSeconds is nil when
// no resolved grievance matches the filter.
type Stats struct {
	TotalCount               int64              `json:"total_count"`
	CountByStatus            map[Status]int64   `json:"count_by_status"`
	CountByDepartment        map[string]int64   `json:"count_by_department"`
	CountByPriority          map[Priority]int64 `json:"count_by_priority"`
	AverageResolutionSeconds *float64           `json:"average_resolution_seconds,omitempty"`
}

package server

import (
	"hookahplus/internal/domain"
)

// Request payloads

type CreateSessionRequest struct {
	SessionID   *string `json:"session_id,omitempty"`
	TableID     string  `json:"table_id"`
	FlavorMix   string  `json:"flavor_mix"`
	PrepStaffID string  `json:"prep_staff_id,omitempty"`
}

type PressButtonRequest struct {
	Button    string         `json:"button"`
	StaffRole string         `json:"staff_role" enum:"prep,front,customer,hookah_room"`
	StaffID   string         `json:"staff_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FireSessionRequest is the single-endpoint action payload used by the
// lounge dashboards.
type FireSessionRequest struct {
	Action      string         `json:"action" enum:"create,press_button"`
	SessionID   string         `json:"sessionId,omitempty"`
	TableID     string         `json:"tableId,omitempty"`
	FlavorMix   string         `json:"flavorMix,omitempty"`
	PrepStaffID string         `json:"prepStaffId,omitempty"`
	Button      string         `json:"button,omitempty"`
	StaffRole   string         `json:"staffRole,omitempty"`
	StaffID     string         `json:"staffId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type DevLoginRequest struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role" enum:"prep,front,customer,hookah_room"`
}

// Response payloads

type PressButtonResponse struct {
	Event   domain.WorkflowEvent `json:"event"`
	Session domain.Session       `json:"session"`
}

type FireSessionResponse struct {
	Success bool                  `json:"success"`
	Session *domain.Session       `json:"session,omitempty"`
	Event   *domain.WorkflowEvent `json:"event,omitempty"`
}

type FireSessionQueryResponse struct {
	Session  *domain.Session        `json:"session,omitempty"`
	Sessions []domain.Session       `json:"sessions,omitempty"`
	Metrics  *domain.SessionMetrics `json:"metrics,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.WorkflowEvent `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ResetResponse struct {
	Reset bool `json:"reset"`
}

// HealthResponse reports liveness and how many live listeners (webhook
// dispatchers, stream clients, broker) are attached to the event hub.
type HealthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

func nonNilSessions(items []domain.Session) []domain.Session {
	if items == nil {
		return []domain.Session{}
	}
	return items
}

func nonNilEvents(items []domain.WorkflowEvent) []domain.WorkflowEvent {
	if items == nil {
		return []domain.WorkflowEvent{}
	}
	return items
}

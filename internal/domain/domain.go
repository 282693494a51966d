package domain

import "time"

// Status is the lifecycle state of a fire session.
type Status string

const (
	StatusPrep      Status = "prep"
	StatusDelivery  Status = "delivery"
	StatusService   Status = "service"
	StatusRecovery  Status = "recovery"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every lifecycle state in workflow order.
var Statuses = []Status{StatusPrep, StatusDelivery, StatusService, StatusRecovery, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no button can move a session out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Role is the staff grouping pressing a button.
type Role string

const (
	RolePrep       Role = "prep"
	RoleFront      Role = "front"
	RoleCustomer   Role = "customer"
	RoleHookahRoom Role = "hookah_room"
)

var Roles = []Role{RolePrep, RoleFront, RoleCustomer, RoleHookahRoom}

func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// Button is a staff action on a fire session.
type Button string

const (
	// prep room
	ButtonPrepStarted       Button = "prep_started"
	ButtonFlavorLocked      Button = "flavor_locked"
	ButtonSessionTimerArmed Button = "session_timer_armed"
	ButtonReadyForDelivery  Button = "ready_for_delivery"

	// floor
	ButtonPickedUp          Button = "picked_up"
	ButtonDelivered         Button = "delivered"
	ButtonCustomerConfirmed Button = "customer_confirmed"

	// service cycle
	ButtonRefillRequested Button = "refill_requested"
	ButtonRefillDelivered Button = "refill_delivered"
	ButtonCoalsBurnedOut  Button = "coals_burned_out"
	ButtonCoalsDelivered  Button = "coals_delivered"
	ButtonSessionComplete Button = "session_complete"

	// staff overrides
	ButtonHold         Button = "hold"
	ButtonRedoRemix    Button = "redo_remix"
	ButtonSwapCharcoal Button = "swap_charcoal"
	ButtonCancel       Button = "cancel"
	ButtonReturnToPrep Button = "return_to_prep"
	ButtonResume       Button = "resume"
)

var Buttons = []Button{
	ButtonPrepStarted, ButtonFlavorLocked, ButtonSessionTimerArmed, ButtonReadyForDelivery,
	ButtonPickedUp, ButtonDelivered, ButtonCustomerConfirmed,
	ButtonRefillRequested, ButtonRefillDelivered, ButtonCoalsBurnedOut, ButtonCoalsDelivered, ButtonSessionComplete,
	ButtonHold, ButtonRedoRemix, ButtonSwapCharcoal, ButtonCancel, ButtonReturnToPrep, ButtonResume,
}

func (b Button) Valid() bool {
	for _, v := range Buttons {
		if b == v {
			return true
		}
	}
	return false
}

// IssueButtons are the recovery presses counted as operational issues.
var IssueButtons = []Button{ButtonRedoRemix, ButtonReturnToPrep, ButtonHold}

type PrepStage struct {
	IsStarted          bool       `json:"is_started"`
	IsFlavorLocked     bool       `json:"is_flavor_locked"`
	IsTimerArmed       bool       `json:"is_timer_armed"`
	IsReadyForDelivery bool       `json:"is_ready_for_delivery"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FlavorLockedAt     *time.Time `json:"flavor_locked_at,omitempty"`
	TimerArmedAt       *time.Time `json:"timer_armed_at,omitempty"`
	ReadyForDeliveryAt *time.Time `json:"ready_for_delivery_at,omitempty"`
}

type DeliveryStage struct {
	IsPickedUp          bool       `json:"is_picked_up"`
	IsDelivered         bool       `json:"is_delivered"`
	IsCustomerConfirmed bool       `json:"is_customer_confirmed"`
	PickedUpAt          *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt         *time.Time `json:"delivered_at,omitempty"`
	CustomerConfirmedAt *time.Time `json:"customer_confirmed_at,omitempty"`
}

type ServiceStage struct {
	IsActive         bool       `json:"is_active"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Duration         int        `json:"duration"`
	CharcoalSwaps    int        `json:"charcoal_swaps"`
	LastCharcoalSwap *time.Time `json:"last_charcoal_swap,omitempty"`
	RefillCount      int        `json:"refill_count"`
	CoalBurnoutCount int        `json:"coal_burnout_count"`
}

type RefillStage struct {
	IsRequested bool       `json:"is_requested"`
	IsDelivered bool       `json:"is_delivered"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	DeliveredBy string     `json:"delivered_by,omitempty"`
	RefillType  string     `json:"refill_type" enum:"flavor,water,both"`
}

// Open reports an outstanding refill request.
func (r RefillStage) Open() bool { return r.IsRequested && !r.IsDelivered }

type CoalStage struct {
	NeedsReplacement bool       `json:"needs_replacement"`
	IsDelivered      bool       `json:"is_delivered"`
	RequestedAt      *time.Time `json:"requested_at,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	DeliveredBy      string     `json:"delivered_by,omitempty"`
	CoalType         string     `json:"coal_type" enum:"quick_light,natural,coconut"`
}

// Open reports an outstanding coal replacement.
func (c CoalStage) Open() bool { return c.NeedsReplacement && !c.IsDelivered }

type RecoveryStage struct {
	Reason      string     `json:"reason"`
	InitiatedAt time.Time  `json:"initiated_at" format:"date-time"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ActionTaken string     `json:"action_taken"`
}

type StaffAssigned struct {
	Prep       string `json:"prep,omitempty"`
	Front      string `json:"front,omitempty"`
	HookahRoom string `json:"hookah_room,omitempty"`
}

// Has reports whether staffID holds any role on the session.
func (s StaffAssigned) Has(staffID string) bool {
	if staffID == "" {
		return false
	}
	return s.Prep == staffID || s.Front == staffID || s.HookahRoom == staffID
}

type SessionTimer struct {
	ArmedAt        *time.Time `json:"armed_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	Duration       int        `json:"duration"`
	CurrentCycle   int        `json:"current_cycle"`
	LastRefillAt   *time.Time `json:"last_refill_at,omitempty"`
	LastCoalSwapAt *time.Time `json:"last_coal_swap_at,omitempty"`
}

// Session is one hookah order from prep through service.
type Session struct {
	SessionID     string         `json:"session_id"`
	TableID       string         `json:"table_id"`
	FlavorMix     string         `json:"flavor_mix"`
	CurrentStatus Status         `json:"current_status" enum:"prep,delivery,service,recovery,completed,cancelled"`
	PrepStage     PrepStage      `json:"prep_stage"`
	DeliveryStage DeliveryStage  `json:"delivery_stage"`
	ServiceStage  ServiceStage   `json:"service_stage"`
	RefillStage   RefillStage    `json:"refill_stage"`
	CoalStage     CoalStage      `json:"coal_stage"`
	RecoveryStage *RecoveryStage `json:"recovery_stage,omitempty"`
	StaffAssigned StaffAssigned  `json:"staff_assigned"`
	SessionTimer  *SessionTimer  `json:"session_timer,omitempty"`
	CreatedAt     time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt     time.Time      `json:"updated_at" format:"date-time"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	c := s
	if s.RecoveryStage != nil {
		r := *s.RecoveryStage
		c.RecoveryStage = &r
	}
	if s.SessionTimer != nil {
		t := *s.SessionTimer
		c.SessionTimer = &t
	}
	return c
}

// WorkflowEvent records one accepted button press.
type WorkflowEvent struct {
	Seq           int64          `json:"seq"`
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	StaffRole     Role           `json:"staff_role"`
	StaffID       string         `json:"staff_id"`
	Timestamp     time.Time      `json:"timestamp" format:"date-time"`
	ButtonPressed Button         `json:"button_pressed"`
	StatusTag     Status         `json:"status_tag"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousState *Session       `json:"previous_state,omitempty"`
	NewState      Session        `json:"new_state"`
}

// Clone returns a copy that shares no maps or pointers with evt. Metadata
// values are copied one level deep.
func (evt WorkflowEvent) Clone() WorkflowEvent {
	c := evt
	if evt.Metadata != nil {
		c.Metadata = make(map[string]any, len(evt.Metadata))
		for k, v := range evt.Metadata {
			c.Metadata[k] = v
		}
	}
	if evt.PreviousState != nil {
		prev := evt.PreviousState.Clone()
		c.PreviousState = &prev
	}
	c.NewState = evt.NewState.Clone()
	return c
}

// IssueCount is one entry of the frequent-issue ranking.
type IssueCount struct {
	Issue Button `json:"issue"`
	Count int    `json:"count"`
}

type SessionMetrics struct {
	TotalSessions       int            `json:"total_sessions"`
	SessionsByStatus    map[Status]int `json:"sessions_by_status"`
	AveragePrepTime     float64        `json:"average_prep_time_ms"`
	AverageDeliveryTime float64        `json:"average_delivery_time_ms"`
	RecoveryRate        float64        `json:"recovery_rate"`
	RefillRate          float64        `json:"refill_rate"`
	CoalBurnoutRate     float64        `json:"coal_burnout_rate"`
	FrequentIssues      []IssueCount   `json:"frequent_issues"`
}

// StaffKey is a hashed device key bound to one staff member and role.
type StaffKey struct {
	ID        string `json:"id"`
	StaffID   string `json:"staff_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

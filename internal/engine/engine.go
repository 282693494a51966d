package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookahplus/internal/config"
	"hookahplus/internal/domain"
	"hookahplus/internal/engine/auth"
	"hookahplus/internal/events"
)

// Store persists sessions and the workflow event log.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	// ApplyTransition saves s and appends evt as one unit, returning the
	// event sequence number.
	ApplyTransition(ctx context.Context, s domain.Session, evt domain.WorkflowEvent) (int64, error)
	ListEvents(ctx context.Context, sessionID string) ([]domain.WorkflowEvent, error)
	EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.WorkflowEvent, error)
	LatestEventSeq(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
}

// ErrInvalidInput marks malformed create requests.
var ErrInvalidInput = errors.New("invalid input")

// Engine is the only component that mutates sessions. Mutations are
// serialized; subscribers observe events in the order they were accepted.
//
// Subscriber callbacks run on the pressing goroutine and must not call
// CreateSession, PressButton or Reset.
type Engine struct {
	Store  Store
	Config *config.Config
	Policy auth.Policy
	Hub    *events.Hub
	Logger *log.Logger
	Now    func() time.Time
	NewID  func() string

	mu    sync.Mutex
	pubMu sync.Mutex
}

func New(store Store, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default("default")
	}
	return &Engine{
		Store:  store,
		Config: cfg,
		Policy: auth.NewPolicy(cfg.Workflow.Permissions),
		Hub:    events.NewHub(),
		Logger: log.Default(),
		Now:    time.Now,
		NewID:  func() string { return uuid.NewString() },
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) timerMinutes() int {
	if e.Config != nil && e.Config.Workflow.DefaultTimerMinutes > 0 {
		return e.Config.Workflow.DefaultTimerMinutes
	}
	return 60
}

// CreateOptions are parameters for opening a fire session.
type CreateOptions struct {
	SessionID   string
	TableID     string
	FlavorMix   string
	PrepStaffID string
}

// CreateSession opens a session in prep with every stage flag cleared. An
// empty SessionID is replaced with a generated one; reusing an existing ID
// fails with repo.ErrSessionExists.
func (e *Engine) CreateSession(ctx context.Context, opts CreateOptions) (domain.Session, error) {
	if strings.TrimSpace(opts.TableID) == "" {
		return domain.Session{}, fmt.Errorf("%w: table_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.FlavorMix) == "" {
		return domain.Session{}, fmt.Errorf("%w: flavor_mix is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.PrepStaffID) == "" {
		return domain.Session{}, fmt.Errorf("%w: prep_staff_id is required", ErrInvalidInput)
	}
	id := strings.TrimSpace(opts.SessionID)
	if id == "" {
		id = e.newID()
	}
	now := e.now()
	s := domain.Session{
		SessionID:     id,
		TableID:       opts.TableID,
		FlavorMix:     opts.FlavorMix,
		CurrentStatus: domain.StatusPrep,
		RefillStage:   domain.RefillStage{RefillType: defaultRefillType},
		CoalStage:     domain.CoalStage{CoalType: defaultCoalType},
		StaffAssigned: domain.StaffAssigned{Prep: opts.PrepStaffID},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Store.CreateSession(ctx, s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// PressRequest is one staff button press.
type PressRequest struct {
	SessionID string
	Button    domain.Button
	Role      domain.Role
	StaffID   string
	Metadata  map[string]any
}

// Reason explains why a press was rejected.
type Reason string

const (
	ReasonUnknownButton   Reason = "unknown_button"
	ReasonRoleNotAllowed  Reason = "role_not_allowed"
	ReasonSessionClosed   Reason = "session_closed"
	ReasonPrecondition    Reason = "precondition_failed"
	ReasonInvalidMetadata Reason = "invalid_metadata"
)

// Result is the outcome of a press. A rejected press changes nothing and
// records no event.
type Result struct {
	Accepted bool
	Event    *domain.WorkflowEvent
	Reason   Reason
	Detail   string
}

func rejected(reason Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// PressButton applies one button press to a session. The returned error is
// reserved for unknown sessions (repo.ErrNotFound) and storage failures;
// presses the workflow does not allow come back as a rejected Result.
func (e *Engine) PressButton(ctx context.Context, req PressRequest) (Result, error) {
	e.mu.Lock()
	locked := true
	defer func() {
		if locked {
			e.mu.Unlock()
		}
	}()

	s, err := e.Store.GetSession(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	res, next := e.evaluate(s, req)
	if !res.Accepted {
		e.logger().Printf("press rejected: session=%s button=%s role=%s reason=%s %s", req.SessionID, req.Button, req.Role, res.Reason, res.Detail)
		return res, nil
	}
	prev := s.Clone()
	evt := domain.WorkflowEvent{
		ID:            e.newID(),
		SessionID:     s.SessionID,
		StaffRole:     req.Role,
		StaffID:       req.StaffID,
		Timestamp:     next.UpdatedAt,
		ButtonPressed: req.Button,
		StatusTag:     next.CurrentStatus,
		Metadata:      req.Metadata,
		PreviousState: &prev,
		NewState:      next,
	}
	evt = evt.Clone()
	seq, err := e.Store.ApplyTransition(ctx, next, evt)
	if err != nil {
		return Result{}, err
	}
	evt.Seq = seq

	e.pubMu.Lock()
	e.mu.Unlock()
	locked = false
	e.publish(evt)

	out := evt.Clone()
	return Result{Accepted: true, Event: &out}, nil
}

// publish hands evt to subscribers and releases pubMu even when one of them
// panics. Each subscriber gets its own copy.
func (e *Engine) publish(evt domain.WorkflowEvent) {
	defer e.pubMu.Unlock()
	e.Hub.Publish(evt)
}

// evaluate checks authorization and preconditions and returns the session
// as it would be after the press.
func (e *Engine) evaluate(s domain.Session, req PressRequest) (Result, domain.Session) {
	if !req.Button.Valid() {
		return rejected(ReasonUnknownButton, fmt.Sprintf("unknown button %q", req.Button)), s
	}
	if !e.Policy.Allows(req.Button, req.Role) {
		detail := fmt.Sprintf("%s cannot press %s", displayRole(req.Role), req.Button)
		if roles := e.Policy.RolesFor(req.Button); len(roles) > 0 {
			detail += fmt.Sprintf(" (allowed: %s)", joinRoles(roles))
		}
		return rejected(ReasonRoleNotAllowed, detail), s
	}
	if s.CurrentStatus.Terminal() {
		return rejected(ReasonSessionClosed, fmt.Sprintf("session is %s", s.CurrentStatus)), s
	}
	next := s.Clone()
	now := e.now()
	st := &step{s: &next, req: req, now: now, timerMinutes: e.timerMinutes()}
	if res, ok := transitions[req.Button](st); !ok {
		return res, s
	}
	if s.CurrentStatus == domain.StatusRecovery && next.CurrentStatus != domain.StatusRecovery {
		resolveRecovery(&next, now)
	}
	next.UpdatedAt = now
	return Result{Accepted: true}, next
}

// Reset drops every session and event.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Store.Reset(ctx); err != nil {
		return err
	}
	e.logger().Printf("workflow reset")
	return nil
}

// SubscribeToAgentEvents registers fn for every accepted press.
func (e *Engine) SubscribeToAgentEvents(fn events.Handler) func() {
	return e.Hub.Subscribe(fn)
}

// SubscribeToReadyForDelivery registers fn for hookahs reaching the pickup shelf.
func (e *Engine) SubscribeToReadyForDelivery(fn events.Handler) func() {
	return e.Hub.SubscribeFiltered(events.IsReadyForDelivery, fn)
}

// SubscribeToRefillRequests registers fn for customer refill requests.
func (e *Engine) SubscribeToRefillRequests(fn events.Handler) func() {
	return e.Hub.SubscribeFiltered(events.IsRefillRequest, fn)
}

// SubscribeToCoalRequests registers fn for burned-out coal reports.
func (e *Engine) SubscribeToCoalRequests(fn events.Handler) func() {
	return e.Hub.SubscribeFiltered(events.IsCoalRequest, fn)
}

// Subscribe returns a buffered event channel for consumers that must not
// block presses. Events are dropped while the buffer is full.
func (e *Engine) Subscribe(buffer int) (<-chan domain.WorkflowEvent, func()) {
	return e.Hub.SubscribeChan(buffer)
}

// Subscribers counts live callback and channel subscriptions.
func (e *Engine) Subscribers() int {
	return e.Hub.Len()
}

func displayRole(r domain.Role) string {
	if r == "" {
		return "anonymous staff"
	}
	return "role " + string(r)
}

func joinRoles(roles []domain.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"hookahplus/internal/domain"
)

const (
	defaultRefillType = "both"
	defaultCoalType   = "quick_light"

	reasonHold         = "Session paused"
	reasonRedoRemix    = "Flavor or equipment error"
	reasonReturnToPrep = "Delivery issue"

	actionHold         = "Session placed on hold"
	actionRedoRemix    = "Hookah remake required"
	actionReturnToPrep = "Hookah returned to prep room"
)

var (
	refillTypes = []string{"flavor", "water", "both"}
	coalTypes   = []string{"quick_light", "natural", "coconut"}
)

// step carries one press through its transition. Transitions mutate s in
// place; the caller discards s when the transition fails.
type step struct {
	s            *domain.Session
	req          PressRequest
	now          time.Time
	timerMinutes int
}

type transition func(st *step) (Result, bool)

var transitions = map[domain.Button]transition{
	domain.ButtonPrepStarted:       prepStarted,
	domain.ButtonFlavorLocked:      flavorLocked,
	domain.ButtonSessionTimerArmed: sessionTimerArmed,
	domain.ButtonReadyForDelivery:  readyForDelivery,

	domain.ButtonPickedUp:          pickedUp,
	domain.ButtonDelivered:         delivered,
	domain.ButtonCustomerConfirmed: customerConfirmed,

	domain.ButtonRefillRequested: refillRequested,
	domain.ButtonRefillDelivered: refillDelivered,
	domain.ButtonCoalsBurnedOut:  coalsBurnedOut,
	domain.ButtonCoalsDelivered:  coalsDelivered,
	domain.ButtonSessionComplete: sessionComplete,

	domain.ButtonHold:         hold,
	domain.ButtonRedoRemix:    redoRemix,
	domain.ButtonSwapCharcoal: swapCharcoal,
	domain.ButtonCancel:       cancel,
	domain.ButtonReturnToPrep: returnToPrep,
	domain.ButtonResume:       resume,
}

func applied() (Result, bool) { return Result{Accepted: true}, true }

func unmet(format string, args ...any) (Result, bool) {
	return rejected(ReasonPrecondition, fmt.Sprintf(format, args...)), false
}

func badMetadata(format string, args ...any) (Result, bool) {
	return rejected(ReasonInvalidMetadata, fmt.Sprintf(format, args...)), false
}

func requireStatus(s *domain.Session, want domain.Status) (Result, bool) {
	if s.CurrentStatus != want {
		return unmet("session is %s, not %s", s.CurrentStatus, want)
	}
	return applied()
}

func at(t time.Time) *time.Time { return &t }

func prepStarted(st *step) (Result, bool) {
	p := &st.s.PrepStage
	if res, ok := requireStatus(st.s, domain.StatusPrep); !ok {
		return res, ok
	}
	if p.IsStarted {
		return unmet("prep already started")
	}
	p.IsStarted = true
	p.StartedAt = at(st.now)
	return applied()
}

func flavorLocked(st *step) (Result, bool) {
	p := &st.s.PrepStage
	if res, ok := requireStatus(st.s, domain.StatusPrep); !ok {
		return res, ok
	}
	if !p.IsStarted {
		return unmet("prep not started")
	}
	if p.IsFlavorLocked {
		return unmet("flavor already locked")
	}
	p.IsFlavorLocked = true
	p.FlavorLockedAt = at(st.now)
	return applied()
}

func sessionTimerArmed(st *step) (Result, bool) {
	p := &st.s.PrepStage
	if res, ok := requireStatus(st.s, domain.StatusPrep); !ok {
		return res, ok
	}
	if !p.IsStarted {
		return unmet("prep not started")
	}
	if p.IsTimerArmed {
		return unmet("timer already armed")
	}
	duration := st.timerMinutes
	if v, ok := st.req.Metadata["duration"]; ok {
		d, err := minutes(v)
		if err != nil {
			return badMetadata("duration: %v", err)
		}
		duration = d
	}
	p.IsTimerArmed = true
	p.TimerArmedAt = at(st.now)
	st.s.SessionTimer = &domain.SessionTimer{
		ArmedAt:  at(st.now),
		Duration: duration,
	}
	return applied()
}

func readyForDelivery(st *step) (Result, bool) {
	p := &st.s.PrepStage
	if res, ok := requireStatus(st.s, domain.StatusPrep); !ok {
		return res, ok
	}
	if !p.IsStarted {
		return unmet("prep not started")
	}
	if p.IsReadyForDelivery {
		return unmet("already ready for delivery")
	}
	p.IsReadyForDelivery = true
	p.ReadyForDeliveryAt = at(st.now)
	st.s.CurrentStatus = domain.StatusDelivery
	return applied()
}

func pickedUp(st *step) (Result, bool) {
	d := &st.s.DeliveryStage
	if res, ok := requireStatus(st.s, domain.StatusDelivery); !ok {
		return res, ok
	}
	if d.IsPickedUp {
		return unmet("already picked up")
	}
	d.IsPickedUp = true
	d.PickedUpAt = at(st.now)
	st.s.StaffAssigned.Front = st.req.StaffID
	return applied()
}

func delivered(st *step) (Result, bool) {
	d := &st.s.DeliveryStage
	if res, ok := requireStatus(st.s, domain.StatusDelivery); !ok {
		return res, ok
	}
	if !d.IsPickedUp {
		return unmet("hookah not picked up")
	}
	if d.IsDelivered {
		return unmet("already delivered")
	}
	d.IsDelivered = true
	d.DeliveredAt = at(st.now)
	st.s.CurrentStatus = domain.StatusService
	svc := &st.s.ServiceStage
	svc.IsActive = true
	svc.StartedAt = at(st.now)
	if t := st.s.SessionTimer; t != nil && t.ArmedAt != nil {
		t.StartedAt = at(st.now)
		t.CurrentCycle = 1
		svc.Duration = t.Duration
	}
	return applied()
}

func customerConfirmed(st *step) (Result, bool) {
	d := &st.s.DeliveryStage
	if st.s.CurrentStatus == domain.StatusRecovery {
		return unmet("session in recovery")
	}
	if !d.IsDelivered {
		return unmet("hookah not delivered")
	}
	if d.IsCustomerConfirmed {
		return unmet("already confirmed")
	}
	d.IsCustomerConfirmed = true
	d.CustomerConfirmedAt = at(st.now)
	return applied()
}

func refillRequested(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusService); !ok {
		return res, ok
	}
	if st.s.RefillStage.Open() {
		return unmet("refill already requested")
	}
	kind, err := choice(st.req.Metadata, "refillType", refillTypes, defaultRefillType)
	if err != nil {
		return badMetadata("%v", err)
	}
	st.s.RefillStage = domain.RefillStage{
		IsRequested: true,
		RequestedAt: at(st.now),
		RefillType:  kind,
	}
	st.s.ServiceStage.RefillCount++
	return applied()
}

func refillDelivered(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusService); !ok {
		return res, ok
	}
	if !st.s.RefillStage.Open() {
		return unmet("no open refill request")
	}
	r := &st.s.RefillStage
	r.IsDelivered = true
	r.DeliveredAt = at(st.now)
	r.DeliveredBy = st.req.StaffID
	if t := st.s.SessionTimer; t != nil {
		t.LastRefillAt = at(st.now)
		t.CurrentCycle++
	}
	return applied()
}

func coalsBurnedOut(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusService); !ok {
		return res, ok
	}
	if st.s.CoalStage.Open() {
		return unmet("coals already requested")
	}
	kind, err := choice(st.req.Metadata, "coalType", coalTypes, defaultCoalType)
	if err != nil {
		return badMetadata("%v", err)
	}
	st.s.CoalStage = domain.CoalStage{
		NeedsReplacement: true,
		RequestedAt:      at(st.now),
		CoalType:         kind,
	}
	st.s.ServiceStage.CoalBurnoutCount++
	return applied()
}

func coalsDelivered(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusService); !ok {
		return res, ok
	}
	if !st.s.CoalStage.Open() {
		return unmet("no open coal request")
	}
	c := &st.s.CoalStage
	c.IsDelivered = true
	c.DeliveredAt = at(st.now)
	c.DeliveredBy = st.req.StaffID
	st.s.StaffAssigned.HookahRoom = st.req.StaffID
	if t := st.s.SessionTimer; t != nil {
		t.LastCoalSwapAt = at(st.now)
	}
	return applied()
}

func sessionComplete(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusService); !ok {
		return res, ok
	}
	st.s.CurrentStatus = domain.StatusCompleted
	st.s.ServiceStage.IsActive = false
	return applied()
}

func hold(st *step) (Result, bool) {
	st.s.CurrentStatus = domain.StatusRecovery
	st.s.RecoveryStage = &domain.RecoveryStage{
		Reason:      reasonOr(st.req.Metadata, reasonHold),
		InitiatedAt: st.now,
		ActionTaken: actionHold,
	}
	return applied()
}

// redoRemix sends the hookah back through prep from scratch. Delivery and
// service progress is dropped with it so status stays consistent with the
// flags once the session is resumed.
func redoRemix(st *step) (Result, bool) {
	if v, ok := st.req.Metadata["flavorMix"]; ok {
		mix, isString := v.(string)
		if !isString || strings.TrimSpace(mix) == "" {
			return badMetadata("flavorMix must be a non-empty string")
		}
		st.s.FlavorMix = mix
	}
	st.s.CurrentStatus = domain.StatusRecovery
	st.s.RecoveryStage = &domain.RecoveryStage{
		Reason:      reasonOr(st.req.Metadata, reasonRedoRemix),
		InitiatedAt: st.now,
		ActionTaken: actionRedoRemix,
	}
	st.s.PrepStage = domain.PrepStage{}
	st.s.DeliveryStage = domain.DeliveryStage{}
	st.s.ServiceStage.IsActive = false
	st.s.SessionTimer = nil
	return applied()
}

// swapCharcoal is accepted in every open status but only counts during service.
func swapCharcoal(st *step) (Result, bool) {
	if st.s.CurrentStatus == domain.StatusService {
		st.s.ServiceStage.CharcoalSwaps++
		st.s.ServiceStage.LastCharcoalSwap = at(st.now)
	}
	return applied()
}

func cancel(st *step) (Result, bool) {
	st.s.CurrentStatus = domain.StatusCancelled
	st.s.ServiceStage.IsActive = false
	return applied()
}

// returnToPrep passes through recovery and lands in prep in one press. The
// ready flag is cleared so prep can hand the hookah over again.
func returnToPrep(st *step) (Result, bool) {
	st.s.RecoveryStage = &domain.RecoveryStage{
		Reason:      reasonOr(st.req.Metadata, reasonReturnToPrep),
		InitiatedAt: st.now,
		ResolvedAt:  at(st.now),
		ActionTaken: actionReturnToPrep,
	}
	st.s.DeliveryStage = domain.DeliveryStage{}
	st.s.PrepStage.IsReadyForDelivery = false
	st.s.PrepStage.ReadyForDeliveryAt = nil
	st.s.ServiceStage.IsActive = false
	st.s.CurrentStatus = domain.StatusPrep
	return applied()
}

func resume(st *step) (Result, bool) {
	if res, ok := requireStatus(st.s, domain.StatusRecovery); !ok {
		return res, ok
	}
	st.s.CurrentStatus = statusFromFlags(st.s)
	if st.s.CurrentStatus == domain.StatusService {
		st.s.ServiceStage.IsActive = true
	}
	return applied()
}

// statusFromFlags derives the open status the stage flags support.
func statusFromFlags(s *domain.Session) domain.Status {
	switch {
	case s.DeliveryStage.IsDelivered:
		return domain.StatusService
	case s.PrepStage.IsReadyForDelivery:
		return domain.StatusDelivery
	default:
		return domain.StatusPrep
	}
}

func resolveRecovery(s *domain.Session, now time.Time) {
	if s.RecoveryStage != nil && s.RecoveryStage.ResolvedAt == nil {
		s.RecoveryStage.ResolvedAt = at(now)
	}
}

func reasonOr(meta map[string]any, fallback string) string {
	if v, ok := meta["reason"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func choice(meta map[string]any, key string, allowed []string, fallback string) (string, error) {
	v, ok := meta[key]
	if !ok || v == nil {
		return fallback, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if s == "" {
		return fallback, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s", key, strings.Join(allowed, ", "))
}

// minutes accepts the numeric shapes a duration arrives in from JSON, YAML
// or Go callers.
func minutes(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if f <= 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("must be a positive whole number of minutes")
	}
	return int(f), nil
}

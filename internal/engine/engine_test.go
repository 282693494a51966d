package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"hookahplus/internal/config"
	"hookahplus/internal/db"
	"hookahplus/internal/domain"
	"hookahplus/internal/engine"
	"hookahplus/internal/migrate"
	"hookahplus/internal/repo"
)

type clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, store engine.Store) testEnv {
	t.Helper()
	eng := engine.New(store, config.Default("lounge-1"))
	eng.Logger = log.New(io.Discard, "", 0)
	eng.Hub.Logger = eng.Logger
	c := &clock{t: time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC), step: time.Second}
	eng.Now = c.Now
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func sqliteStore(t *testing.T) engine.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

// forEachStore runs fn against the in-memory and SQLite stores.
func forEachStore(t *testing.T, fn func(t *testing.T, env testEnv)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestEnv(t, repo.NewMemory())) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestEnv(t, sqliteStore(t))) })
}

func (env testEnv) create(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := env.Engine.CreateSession(env.Ctx, engine.CreateOptions{
		SessionID: id, TableID: "T-3", FlavorMix: "Double Apple + Mint", PrepStaffID: "prepA",
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return s
}

func (env testEnv) press(t *testing.T, id string, b domain.Button, role domain.Role, staff string, meta map[string]any) engine.Result {
	t.Helper()
	res, err := env.Engine.PressButton(env.Ctx, engine.PressRequest{SessionID: id, Button: b, Role: role, StaffID: staff, Metadata: meta})
	if err != nil {
		t.Fatalf("press %s on %s: %v", b, id, err)
	}
	return res
}

func (env testEnv) mustPress(t *testing.T, id string, b domain.Button, role domain.Role, staff string) domain.WorkflowEvent {
	t.Helper()
	res := env.press(t, id, b, role, staff, nil)
	if !res.Accepted || res.Event == nil {
		t.Fatalf("press %s on %s rejected: %s %s", b, id, res.Reason, res.Detail)
	}
	return *res.Event
}

func (env testEnv) session(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := env.Engine.GetSession(env.Ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return s
}

func (env testEnv) history(t *testing.T, id string) []domain.WorkflowEvent {
	t.Helper()
	evts, err := env.Engine.EventHistory(env.Ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return evts
}

// driveToService presses the six happy-path buttons.
func (env testEnv) driveToService(t *testing.T, id string) {
	t.Helper()
	env.mustPress(t, id, domain.ButtonPrepStarted, domain.RolePrep, "prepA")
	env.mustPress(t, id, domain.ButtonFlavorLocked, domain.RolePrep, "prepA")
	env.mustPress(t, id, domain.ButtonSessionTimerArmed, domain.RolePrep, "prepA")
	env.mustPress(t, id, domain.ButtonReadyForDelivery, domain.RolePrep, "prepA")
	env.mustPress(t, id, domain.ButtonPickedUp, domain.RoleFront, "frontA")
	env.mustPress(t, id, domain.ButtonDelivered, domain.RoleFront, "frontA")
}

func TestCreateAndFirstPress(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		s := env.create(t, "s1")
		if s.CurrentStatus != domain.StatusPrep || s.StaffAssigned.Prep != "prepA" {
			t.Fatalf("unexpected new session: %+v", s)
		}
		if s.PrepStage.IsStarted || s.DeliveryStage.IsPickedUp || s.ServiceStage.IsActive {
			t.Fatalf("new session has flags set: %+v", s)
		}
		evt := env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		if evt.StatusTag != domain.StatusPrep || evt.ButtonPressed != domain.ButtonPrepStarted {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.PreviousState == nil || evt.PreviousState.PrepStage.IsStarted {
			t.Fatalf("previous state should predate the press: %+v", evt.PreviousState)
		}
		if !evt.NewState.PrepStage.IsStarted {
			t.Fatalf("new state missing started flag")
		}
		if !env.session(t, "s1").PrepStage.IsStarted {
			t.Fatalf("session not started")
		}
	})
}

func TestRoundTripToService(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")
		s := env.session(t, "s1")
		if s.CurrentStatus != domain.StatusService {
			t.Fatalf("expected service, got %s", s.CurrentStatus)
		}
		flags := map[string]bool{
			"started":       s.PrepStage.IsStarted,
			"flavor_locked": s.PrepStage.IsFlavorLocked,
			"timer_armed":   s.PrepStage.IsTimerArmed,
			"ready":         s.PrepStage.IsReadyForDelivery,
			"picked_up":     s.DeliveryStage.IsPickedUp,
			"delivered":     s.DeliveryStage.IsDelivered,
		}
		for name, set := range flags {
			if !set {
				t.Fatalf("flag %s not set", name)
			}
		}
		if s.StaffAssigned.Front != "frontA" {
			t.Fatalf("front staff not bound: %+v", s.StaffAssigned)
		}
		if s.SessionTimer == nil || s.SessionTimer.StartedAt == nil || s.SessionTimer.Duration != 60 {
			t.Fatalf("timer not started: %+v", s.SessionTimer)
		}
		if !s.ServiceStage.IsActive || s.ServiceStage.StartedAt == nil {
			t.Fatalf("service stage not active: %+v", s.ServiceStage)
		}
		evts := env.history(t, "s1")
		if len(evts) != 6 {
			t.Fatalf("expected one event per press, got %d", len(evts))
		}
		want := []domain.Status{domain.StatusPrep, domain.StatusPrep, domain.StatusPrep, domain.StatusDelivery, domain.StatusDelivery, domain.StatusService}
		for i, evt := range evts {
			if evt.StatusTag != want[i] {
				t.Fatalf("event %d status tag %s, want %s", i, evt.StatusTag, want[i])
			}
			if i > 0 && evt.Seq <= evts[i-1].Seq {
				t.Fatalf("events out of order: %d after %d", evt.Seq, evts[i-1].Seq)
			}
		}
	})
}

func TestWrongRoleRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		before := env.session(t, "s1")
		res := env.press(t, "s1", domain.ButtonFlavorLocked, domain.RoleFront, "frontA", nil)
		if res.Accepted || res.Event != nil {
			t.Fatalf("expected rejection, got %+v", res)
		}
		if res.Reason != engine.ReasonRoleNotAllowed {
			t.Fatalf("reason = %s", res.Reason)
		}
		after := env.session(t, "s1")
		if after.PrepStage.IsFlavorLocked || !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatalf("rejected press mutated session")
		}
		if n := len(env.history(t, "s1")); n != 1 {
			t.Fatalf("expected 1 event, got %d", n)
		}
	})
}

func TestPreconditions(t *testing.T) {
	cases := []struct {
		name   string
		setup  []domain.Button
		button domain.Button
		role   domain.Role
		want   engine.Reason
	}{
		{"flavor before start", nil, domain.ButtonFlavorLocked, domain.RolePrep, engine.ReasonPrecondition},
		{"timer before start", nil, domain.ButtonSessionTimerArmed, domain.RolePrep, engine.ReasonPrecondition},
		{"ready before start", nil, domain.ButtonReadyForDelivery, domain.RolePrep, engine.ReasonPrecondition},
		{"start twice", []domain.Button{domain.ButtonPrepStarted}, domain.ButtonPrepStarted, domain.RolePrep, engine.ReasonPrecondition},
		{"pickup before ready", []domain.Button{domain.ButtonPrepStarted}, domain.ButtonPickedUp, domain.RoleFront, engine.ReasonPrecondition},
		{"deliver before pickup", []domain.Button{domain.ButtonPrepStarted, domain.ButtonReadyForDelivery}, domain.ButtonDelivered, domain.RoleFront, engine.ReasonPrecondition},
		{"confirm before delivery", nil, domain.ButtonCustomerConfirmed, domain.RoleCustomer, engine.ReasonPrecondition},
		{"refill outside service", nil, domain.ButtonRefillRequested, domain.RoleCustomer, engine.ReasonPrecondition},
		{"refill delivered without request", nil, domain.ButtonRefillDelivered, domain.RoleFront, engine.ReasonPrecondition},
		{"coals delivered without request", nil, domain.ButtonCoalsDelivered, domain.RoleHookahRoom, engine.ReasonPrecondition},
		{"complete outside service", nil, domain.ButtonSessionComplete, domain.RoleFront, engine.ReasonPrecondition},
		{"resume outside recovery", nil, domain.ButtonResume, domain.RolePrep, engine.ReasonPrecondition},
		{"prep while held", []domain.Button{domain.ButtonHold}, domain.ButtonPrepStarted, domain.RolePrep, engine.ReasonPrecondition},
		{"unknown button", nil, domain.Button("light_it_up"), domain.RolePrep, engine.ReasonUnknownButton},
		{"anonymous override", nil, domain.ButtonHold, domain.Role(""), engine.ReasonRoleNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, repo.NewMemory())
			env.create(t, "s1")
			for _, b := range tc.setup {
				env.mustPress(t, "s1", b, domain.RolePrep, "prepA")
			}
			before := len(env.history(t, "s1"))
			res := env.press(t, "s1", tc.button, tc.role, "staff", nil)
			if res.Accepted {
				t.Fatalf("expected rejection")
			}
			if res.Reason != tc.want {
				t.Fatalf("reason = %s (%s), want %s", res.Reason, res.Detail, tc.want)
			}
			if after := len(env.history(t, "s1")); after != before {
				t.Fatalf("rejected press appended events")
			}
		})
	}
}

func TestUnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		_, err := env.Engine.PressButton(env.Ctx, engine.PressRequest{SessionID: "nope", Button: domain.ButtonPrepStarted, Role: domain.RolePrep})
		if !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := env.Engine.GetSession(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestCreateSessionValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		_, err := env.Engine.CreateSession(env.Ctx, engine.CreateOptions{SessionID: "s1", TableID: "T-1", FlavorMix: "Mint", PrepStaffID: "p"})
		if !errors.Is(err, repo.ErrSessionExists) {
			t.Fatalf("expected duplicate error, got %v", err)
		}
		_, err = env.Engine.CreateSession(env.Ctx, engine.CreateOptions{TableID: "", FlavorMix: "Mint", PrepStaffID: "p"})
		if !errors.Is(err, engine.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
		s, err := env.Engine.CreateSession(env.Ctx, engine.CreateOptions{TableID: "T-9", FlavorMix: "Grape", PrepStaffID: "p"})
		if err != nil {
			t.Fatalf("create without id: %v", err)
		}
		if s.SessionID == "" {
			t.Fatalf("expected generated session id")
		}
	})
}

func TestRedoRemixResetsPrep(t *testing.T) {
	setups := map[string]func(env testEnv, t *testing.T){
		"fresh": func(testEnv, *testing.T) {},
		"started": func(env testEnv, t *testing.T) {
			env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		},
		"in service": func(env testEnv, t *testing.T) {
			env.driveToService(t, "s1")
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, repo.NewMemory())
			env.create(t, "s1")
			setup(env, t)
			res := env.press(t, "s1", domain.ButtonRedoRemix, domain.RoleFront, "frontA", map[string]any{"flavorMix": "Blueberry"})
			if !res.Accepted {
				t.Fatalf("redo rejected: %s", res.Detail)
			}
			s := env.session(t, "s1")
			if s.PrepStage != (domain.PrepStage{}) {
				t.Fatalf("prep stage not reset: %+v", s.PrepStage)
			}
			if s.DeliveryStage.IsDelivered || s.ServiceStage.IsActive {
				t.Fatalf("delivery or service left active: %+v", s)
			}
			if s.CurrentStatus != domain.StatusRecovery || s.RecoveryStage == nil {
				t.Fatalf("expected recovery, got %s", s.CurrentStatus)
			}
			if s.RecoveryStage.ActionTaken != "Hookah remake required" {
				t.Fatalf("action = %q", s.RecoveryStage.ActionTaken)
			}
			if s.FlavorMix != "Blueberry" {
				t.Fatalf("flavor mix = %q", s.FlavorMix)
			}

			env.mustPress(t, "s1", domain.ButtonResume, domain.RolePrep, "prepA")
			s = env.session(t, "s1")
			if s.CurrentStatus != domain.StatusPrep || s.RecoveryStage.ResolvedAt == nil {
				t.Fatalf("resume should return to prep and resolve recovery: %+v", s)
			}
			env.driveToService(t, "s1")
		})
	}
}

func TestSwapCharcoalOnlyCountsInService(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		res := env.press(t, "s1", domain.ButtonSwapCharcoal, domain.RoleFront, "frontA", nil)
		if !res.Accepted {
			t.Fatalf("swap outside service should be accepted as a no-op, got %s", res.Reason)
		}
		s := env.session(t, "s1")
		if s.ServiceStage.CharcoalSwaps != 0 || s.ServiceStage.LastCharcoalSwap != nil {
			t.Fatalf("swap outside service changed counters: %+v", s.ServiceStage)
		}
		if s.CurrentStatus != domain.StatusPrep {
			t.Fatalf("status changed to %s", s.CurrentStatus)
		}
		if n := len(env.history(t, "s1")); n != 1 {
			t.Fatalf("expected the no-op press to be logged, got %d events", n)
		}

		env.driveToService(t, "s1")
		env.mustPress(t, "s1", domain.ButtonSwapCharcoal, domain.RoleHookahRoom, "hrA")
		s = env.session(t, "s1")
		if s.ServiceStage.CharcoalSwaps != 1 || s.ServiceStage.LastCharcoalSwap == nil {
			t.Fatalf("swap in service not counted: %+v", s.ServiceStage)
		}
	})
}

func TestTerminalStatesAbsorb(t *testing.T) {
	for _, terminal := range []domain.Button{domain.ButtonCancel, domain.ButtonSessionComplete} {
		t.Run(string(terminal), func(t *testing.T) {
			env := newTestEnv(t, repo.NewMemory())
			env.create(t, "s1")
			env.driveToService(t, "s1")
			env.mustPress(t, "s1", terminal, domain.RoleFront, "frontA")
			final := env.session(t, "s1").CurrentStatus
			if !final.Terminal() {
				t.Fatalf("expected terminal status, got %s", final)
			}
			roles := map[domain.Button]domain.Role{}
			for _, b := range domain.Buttons {
				roles[b] = domain.RoleFront
			}
			for _, b := range env.Engine.Policy.ButtonsFor(domain.RolePrep) {
				roles[b] = domain.RolePrep
			}
			for _, b := range env.Engine.Policy.ButtonsFor(domain.RoleCustomer) {
				if !env.Engine.Policy.AnyRole(b) {
					roles[b] = domain.RoleCustomer
				}
			}
			roles[domain.ButtonCoalsDelivered] = domain.RoleHookahRoom
			for _, b := range domain.Buttons {
				res := env.press(t, "s1", b, roles[b], "staff", nil)
				if res.Accepted {
					t.Fatalf("%s accepted on %s session", b, final)
				}
				if res.Reason != engine.ReasonSessionClosed {
					t.Fatalf("%s reason = %s", b, res.Reason)
				}
			}
			if got := env.session(t, "s1").CurrentStatus; got != final {
				t.Fatalf("status moved from %s to %s", final, got)
			}
		})
	}
}

func TestOverrideButtonsAcceptAnyRole(t *testing.T) {
	for _, role := range domain.Roles {
		t.Run(string(role), func(t *testing.T) {
			env := newTestEnv(t, repo.NewMemory())
			env.create(t, "s1")
			env.mustPress(t, "s1", domain.ButtonHold, role, "staff")
			env.mustPress(t, "s1", domain.ButtonResume, role, "staff")
			env.mustPress(t, "s1", domain.ButtonReturnToPrep, role, "staff")
			env.mustPress(t, "s1", domain.ButtonSwapCharcoal, role, "staff")
			env.mustPress(t, "s1", domain.ButtonRedoRemix, role, "staff")
			env.mustPress(t, "s1", domain.ButtonCancel, role, "staff")
		})
	}
}

func TestHoldAndResumeFromService(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")
		res := env.press(t, "s1", domain.ButtonHold, domain.RoleCustomer, "guest", map[string]any{"reason": "stepped outside"})
		if !res.Accepted {
			t.Fatalf("hold rejected: %s", res.Detail)
		}
		s := env.session(t, "s1")
		if s.CurrentStatus != domain.StatusRecovery || s.RecoveryStage.Reason != "stepped outside" {
			t.Fatalf("unexpected hold state: %+v", s.RecoveryStage)
		}
		if res := env.press(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest", nil); res.Accepted {
			t.Fatalf("refill accepted while held")
		}
		env.mustPress(t, "s1", domain.ButtonResume, domain.RoleFront, "frontA")
		s = env.session(t, "s1")
		if s.CurrentStatus != domain.StatusService || !s.ServiceStage.IsActive {
			t.Fatalf("resume should restore service: %+v", s)
		}
		if s.RecoveryStage.ResolvedAt == nil {
			t.Fatalf("recovery not resolved")
		}
	})
}

func TestReturnToPrepRedrivesDelivery(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")
		evt := env.mustPress(t, "s1", domain.ButtonReturnToPrep, domain.RoleFront, "frontA")
		if evt.StatusTag != domain.StatusPrep {
			t.Fatalf("status tag = %s", evt.StatusTag)
		}
		s := env.session(t, "s1")
		if s.DeliveryStage != (domain.DeliveryStage{}) {
			t.Fatalf("delivery stage not reset: %+v", s.DeliveryStage)
		}
		if s.RecoveryStage == nil || s.RecoveryStage.ActionTaken != "Hookah returned to prep room" || s.RecoveryStage.ResolvedAt == nil {
			t.Fatalf("unexpected recovery record: %+v", s.RecoveryStage)
		}
		if !s.PrepStage.IsStarted || s.PrepStage.IsReadyForDelivery {
			t.Fatalf("prep should keep its work but need a new hand-off: %+v", s.PrepStage)
		}
		env.mustPress(t, "s1", domain.ButtonReadyForDelivery, domain.RolePrep, "prepA")
		env.mustPress(t, "s1", domain.ButtonPickedUp, domain.RoleFront, "frontB")
		env.mustPress(t, "s1", domain.ButtonDelivered, domain.RoleFront, "frontB")
		if got := env.session(t, "s1"); got.CurrentStatus != domain.StatusService || got.StaffAssigned.Front != "frontB" {
			t.Fatalf("redelivery failed: %+v", got)
		}
	})
}

func TestRefillAndCoalCycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.create(t, "s2")
		env.driveToService(t, "s1")

		res := env.press(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest", map[string]any{"refillType": "water"})
		if !res.Accepted {
			t.Fatalf("refill rejected: %s", res.Detail)
		}
		if res := env.press(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest", nil); res.Reason != engine.ReasonPrecondition {
			t.Fatalf("second open refill should be rejected, got %s", res.Reason)
		}
		if res := env.press(t, "s1", domain.ButtonCoalsBurnedOut, domain.RoleCustomer, "guest", map[string]any{"coalType": "charcoal"}); res.Reason != engine.ReasonInvalidMetadata {
			t.Fatalf("bad coal type should be rejected, got %s", res.Reason)
		}
		env.mustPress(t, "s1", domain.ButtonCoalsBurnedOut, domain.RoleCustomer, "guest")

		refills, err := env.Engine.RefillRequests(env.Ctx)
		if err != nil || len(refills) != 1 || refills[0].SessionID != "s1" {
			t.Fatalf("refill queue = %v, %v", refills, err)
		}
		coals, err := env.Engine.CoalRequests(env.Ctx)
		if err != nil || len(coals) != 1 {
			t.Fatalf("coal queue = %v, %v", coals, err)
		}

		env.mustPress(t, "s1", domain.ButtonRefillDelivered, domain.RoleFront, "frontA")
		env.mustPress(t, "s1", domain.ButtonCoalsDelivered, domain.RoleHookahRoom, "hrA")
		s := env.session(t, "s1")
		if s.CurrentStatus != domain.StatusService {
			t.Fatalf("status = %s", s.CurrentStatus)
		}
		if s.RefillStage.RefillType != "water" || s.RefillStage.DeliveredBy != "frontA" {
			t.Fatalf("refill stage = %+v", s.RefillStage)
		}
		if s.CoalStage.CoalType != "quick_light" || s.StaffAssigned.HookahRoom != "hrA" {
			t.Fatalf("coal stage = %+v staff = %+v", s.CoalStage, s.StaffAssigned)
		}
		if s.SessionTimer.LastRefillAt == nil || s.SessionTimer.LastCoalSwapAt == nil {
			t.Fatalf("timer not updated: %+v", s.SessionTimer)
		}

		env.mustPress(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest")
		s = env.session(t, "s1")
		if s.ServiceStage.RefillCount != 2 || s.RefillStage.IsDelivered {
			t.Fatalf("new refill cycle not opened: %+v", s.RefillStage)
		}

		byStaff, err := env.Engine.SessionsByStaff(env.Ctx, "hrA")
		if err != nil || len(byStaff) != 1 {
			t.Fatalf("sessions by staff = %v, %v", byStaff, err)
		}
		inPrep, err := env.Engine.SessionsByStatus(env.Ctx, domain.StatusPrep)
		if err != nil || len(inPrep) != 1 || inPrep[0].SessionID != "s2" {
			t.Fatalf("sessions in prep = %v, %v", inPrep, err)
		}
	})
}

func TestDeliveriesOnlyResolveServiceRequests(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")
		env.mustPress(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest")
		env.mustPress(t, "s1", domain.ButtonCoalsBurnedOut, domain.RoleCustomer, "guest")
		env.mustPress(t, "s1", domain.ButtonReturnToPrep, domain.RoleFront, "frontA")

		if res := env.press(t, "s1", domain.ButtonRefillDelivered, domain.RoleFront, "frontA", nil); res.Reason != engine.ReasonPrecondition {
			t.Fatalf("refill delivered in prep: accepted=%v reason=%s", res.Accepted, res.Reason)
		}
		if res := env.press(t, "s1", domain.ButtonCoalsDelivered, domain.RoleHookahRoom, "hrA", nil); res.Reason != engine.ReasonPrecondition {
			t.Fatalf("coals delivered in prep: accepted=%v reason=%s", res.Accepted, res.Reason)
		}

		env.mustPress(t, "s1", domain.ButtonReadyForDelivery, domain.RolePrep, "prepA")
		env.mustPress(t, "s1", domain.ButtonPickedUp, domain.RoleFront, "frontA")
		env.mustPress(t, "s1", domain.ButtonDelivered, domain.RoleFront, "frontA")
		env.mustPress(t, "s1", domain.ButtonRefillDelivered, domain.RoleFront, "frontA")
		env.mustPress(t, "s1", domain.ButtonCoalsDelivered, domain.RoleHookahRoom, "hrA")
		if s := env.session(t, "s1"); s.RefillStage.Open() || s.CoalStage.Open() {
			t.Fatalf("requests still open after service resumed: %+v %+v", s.RefillStage, s.CoalStage)
		}
	})
}

func TestRecordedEventsIgnoreCallerMutation(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")

		var seen []domain.WorkflowEvent
		unsub := env.Engine.SubscribeToAgentEvents(func(evt domain.WorkflowEvent) {
			evt.Metadata["reason"] = "rewritten by subscriber"
			evt.PreviousState.CurrentStatus = domain.StatusCancelled
			seen = append(seen, evt)
		})
		defer unsub()

		meta := map[string]any{"reason": "stepped outside"}
		res := env.press(t, "s1", domain.ButtonHold, domain.RoleCustomer, "guest", meta)
		if !res.Accepted {
			t.Fatalf("hold rejected: %s", res.Detail)
		}
		if len(seen) != 1 {
			t.Fatalf("subscriber saw %d events", len(seen))
		}
		meta["reason"] = "rewritten by caller"
		res.Event.PreviousState.CurrentStatus = "bogus"
		res.Event.NewState.RecoveryStage.Reason = "rewritten by caller"

		history := env.history(t, "s1")
		history[len(history)-1].Metadata["reason"] = "rewritten by reader"

		last := env.history(t, "s1")[len(history)-1]
		if last.Metadata["reason"] != "stepped outside" {
			t.Fatalf("metadata rewritten: %v", last.Metadata)
		}
		if last.PreviousState == nil || last.PreviousState.CurrentStatus != domain.StatusService {
			t.Fatalf("previous state rewritten: %+v", last.PreviousState)
		}
		if last.NewState.RecoveryStage.Reason != "stepped outside" {
			t.Fatalf("new state rewritten: %+v", last.NewState.RecoveryStage)
		}
		m, err := env.Engine.Metrics(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if m.SessionsByStatus[domain.StatusRecovery] != 1 {
			t.Fatalf("metrics = %+v", m.SessionsByStatus)
		}
	})
}

func TestPanickingSubscriberDoesNotBlockPresses(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	env.create(t, "s1")

	var after int
	unsubBad := env.Engine.SubscribeToAgentEvents(func(domain.WorkflowEvent) { panic("tablet offline") })
	env.Engine.SubscribeToAgentEvents(func(domain.WorkflowEvent) { after++ })

	env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
	if after != 1 {
		t.Fatalf("subscriber after the panicking one saw %d events", after)
	}
	unsubBad()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if res, err := env.Engine.PressButton(env.Ctx, engine.PressRequest{SessionID: "s1", Button: domain.ButtonFlavorLocked, Role: domain.RolePrep, StaffID: "prepA"}); err != nil || !res.Accepted {
			t.Errorf("second press: %v %+v", err, res)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("press blocked after a subscriber panicked")
	}
	if after != 2 {
		t.Fatalf("expected 2 deliveries, got %d", after)
	}
}

func TestTimerDuration(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	env.create(t, "s1")
	env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
	if res := env.press(t, "s1", domain.ButtonSessionTimerArmed, domain.RolePrep, "prepA", map[string]any{"duration": -5}); res.Reason != engine.ReasonInvalidMetadata {
		t.Fatalf("negative duration reason = %s", res.Reason)
	}
	res := env.press(t, "s1", domain.ButtonSessionTimerArmed, domain.RolePrep, "prepA", map[string]any{"duration": float64(45)})
	if !res.Accepted {
		t.Fatalf("arm rejected: %s", res.Detail)
	}
	if d := env.session(t, "s1").SessionTimer.Duration; d != 45 {
		t.Fatalf("duration = %d", d)
	}
}

func TestMetrics(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		env.mustPress(t, "s1", domain.ButtonReadyForDelivery, domain.RolePrep, "prepA")

		env.create(t, "s2")
		env.mustPress(t, "s2", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		env.mustPress(t, "s2", domain.ButtonFlavorLocked, domain.RolePrep, "prepA")
		env.mustPress(t, "s2", domain.ButtonReadyForDelivery, domain.RolePrep, "prepA")

		// s3 never reaches the shelf and must not count toward prep time
		env.create(t, "s3")
		env.mustPress(t, "s3", domain.ButtonPrepStarted, domain.RolePrep, "prepA")

		env.mustPress(t, "s1", domain.ButtonPickedUp, domain.RoleFront, "frontA")
		env.mustPress(t, "s1", domain.ButtonDelivered, domain.RoleFront, "frontA")

		env.mustPress(t, "s3", domain.ButtonHold, domain.RolePrep, "prepA")
		env.mustPress(t, "s3", domain.ButtonHold, domain.RolePrep, "prepA")
		env.mustPress(t, "s3", domain.ButtonReturnToPrep, domain.RolePrep, "prepA")
		env.mustPress(t, "s3", domain.ButtonHold, domain.RolePrep, "prepA")

		m, err := env.Engine.Metrics(env.Ctx)
		if err != nil {
			t.Fatalf("metrics: %v", err)
		}
		if m.TotalSessions != 3 {
			t.Fatalf("total = %d", m.TotalSessions)
		}
		if m.AveragePrepTime != 1500 {
			t.Fatalf("average prep ms = %v", m.AveragePrepTime)
		}
		if m.AverageDeliveryTime != 1000 {
			t.Fatalf("average delivery ms = %v", m.AverageDeliveryTime)
		}
		if m.RecoveryRate != 1.0/3.0 {
			t.Fatalf("recovery rate = %v", m.RecoveryRate)
		}
		want := map[domain.Status]int{
			domain.StatusPrep: 0, domain.StatusDelivery: 1, domain.StatusService: 1,
			domain.StatusRecovery: 1, domain.StatusCompleted: 0, domain.StatusCancelled: 0,
		}
		for st, n := range want {
			if m.SessionsByStatus[st] != n {
				t.Fatalf("sessions in %s = %d, want %d", st, m.SessionsByStatus[st], n)
			}
		}
		if len(m.FrequentIssues) != 2 {
			t.Fatalf("issues = %+v", m.FrequentIssues)
		}
		if m.FrequentIssues[0] != (domain.IssueCount{Issue: domain.ButtonHold, Count: 3}) ||
			m.FrequentIssues[1] != (domain.IssueCount{Issue: domain.ButtonReturnToPrep, Count: 1}) {
			t.Fatalf("issues = %+v", m.FrequentIssues)
		}
	})
}

func TestMetricsEmpty(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	m, err := env.Engine.Metrics(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalSessions != 0 || m.RecoveryRate != 0 || m.AveragePrepTime != 0 || len(m.FrequentIssues) != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if len(m.SessionsByStatus) != len(domain.Statuses) {
		t.Fatalf("expected every status reported, got %v", m.SessionsByStatus)
	}
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	var all, ready, refills []domain.Button
	unsubAll := env.Engine.SubscribeToAgentEvents(func(evt domain.WorkflowEvent) { all = append(all, evt.ButtonPressed) })
	unsubReady := env.Engine.SubscribeToReadyForDelivery(func(evt domain.WorkflowEvent) { ready = append(ready, evt.ButtonPressed) })
	defer unsubReady()
	unsubRefill := env.Engine.SubscribeToRefillRequests(func(evt domain.WorkflowEvent) { refills = append(refills, evt.ButtonPressed) })
	defer unsubRefill()

	env.create(t, "s1")
	env.press(t, "s1", domain.ButtonFlavorLocked, domain.RoleFront, "frontA", nil)
	env.driveToService(t, "s1")
	if len(all) != 6 {
		t.Fatalf("expected 6 events, got %v", all)
	}
	if len(ready) != 1 || ready[0] != domain.ButtonReadyForDelivery {
		t.Fatalf("ready subscriber saw %v", ready)
	}
	unsubAll()
	unsubAll()
	env.mustPress(t, "s1", domain.ButtonRefillRequested, domain.RoleCustomer, "guest")
	if len(all) != 6 {
		t.Fatalf("unsubscribed callback still invoked")
	}
	if len(refills) != 1 {
		t.Fatalf("refill subscriber saw %v", refills)
	}
}

func TestChannelSubscriptionDropsWhenFull(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	ch, unsub := env.Engine.Subscribe(2)
	env.create(t, "s1")
	env.driveToService(t, "s1")
	if len(ch) != 2 {
		t.Fatalf("expected buffer filled with 2 events, got %d", len(ch))
	}
	first := <-ch
	if first.ButtonPressed != domain.ButtonPrepStarted {
		t.Fatalf("first buffered event = %s", first.ButtonPressed)
	}
	unsub()
	<-ch
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after unsubscribe")
	}
}

func TestReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, env testEnv) {
		env.create(t, "s1")
		env.driveToService(t, "s1")
		last, err := env.Engine.LatestEventSeq(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := env.Engine.Reset(env.Ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		sessions, _ := env.Engine.ListSessions(env.Ctx)
		if len(sessions) != 0 || len(env.history(t, "")) != 0 {
			t.Fatalf("reset left data behind")
		}
		env.create(t, "s1")
		evt := env.mustPress(t, "s1", domain.ButtonPrepStarted, domain.RolePrep, "prepA")
		if evt.Seq <= last {
			t.Fatalf("sequence restarted after reset: %d <= %d", evt.Seq, last)
		}
	})
}

func TestConcurrentPresses(t *testing.T) {
	env := newTestEnv(t, repo.NewMemory())
	const sessions = 20
	var mu sync.Mutex
	var seen []int64
	unsub := env.Engine.SubscribeToAgentEvents(func(evt domain.WorkflowEvent) {
		mu.Lock()
		seen = append(seen, evt.Seq)
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < sessions; i++ {
		env.create(t, fmt.Sprintf("s%d", i))
	}
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		// two goroutines race to start the same session; exactly one wins
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.Engine.PressButton(env.Ctx, engine.PressRequest{SessionID: id, Button: domain.ButtonPrepStarted, Role: domain.RolePrep, StaffID: "prepA"})
				if err != nil {
					t.Errorf("press: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 3; k++ {
				_, err := env.Engine.PressButton(env.Ctx, engine.PressRequest{SessionID: id, Button: domain.ButtonSwapCharcoal, Role: domain.RoleFront, StaffID: "frontA"})
				if err != nil {
					t.Errorf("press: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		evts := env.history(t, fmt.Sprintf("s%d", i))
		starts := 0
		for _, evt := range evts {
			if evt.ButtonPressed == domain.ButtonPrepStarted {
				starts++
			}
		}
		if starts != 1 || len(evts) != 4 {
			t.Fatalf("session s%d: %d starts, %d events", i, starts, len(evts))
		}
	}
	if len(seen) != sessions*4 {
		t.Fatalf("subscriber saw %d events", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("subscriber saw events out of order at %d: %v", i, seen[i-1:i+1])
		}
	}
}

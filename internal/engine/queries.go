package engine

import (
	"context"
	"sort"
	"time"

	"hookahplus/internal/domain"
)

const frequentIssueLimit = 5

func (e *Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return e.Store.GetSession(ctx, id)
}

// ListSessions returns every session in creation order.
func (e *Engine) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return e.Store.ListSessions(ctx)
}

func (e *Engine) SessionsByStatus(ctx context.Context, status domain.Status) ([]domain.Session, error) {
	return e.filter(ctx, func(s domain.Session) bool { return s.CurrentStatus == status })
}

// SessionsByStaff returns sessions where staffID holds any role.
func (e *Engine) SessionsByStaff(ctx context.Context, staffID string) ([]domain.Session, error) {
	return e.filter(ctx, func(s domain.Session) bool { return s.StaffAssigned.Has(staffID) })
}

// ReadyForDelivery lists hookahs waiting on the pickup shelf or in transit.
func (e *Engine) ReadyForDelivery(ctx context.Context) ([]domain.Session, error) {
	return e.filter(ctx, func(s domain.Session) bool {
		return s.CurrentStatus == domain.StatusDelivery && s.PrepStage.IsReadyForDelivery
	})
}

func (e *Engine) RefillRequests(ctx context.Context) ([]domain.Session, error) {
	return e.filter(ctx, func(s domain.Session) bool {
		return s.CurrentStatus == domain.StatusService && s.RefillStage.Open()
	})
}

func (e *Engine) CoalRequests(ctx context.Context) ([]domain.Session, error) {
	return e.filter(ctx, func(s domain.Session) bool {
		return s.CurrentStatus == domain.StatusService && s.CoalStage.Open()
	})
}

func (e *Engine) filter(ctx context.Context, keep func(domain.Session) bool) ([]domain.Session, error) {
	all, err := e.Store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Session, 0, len(all))
	for _, s := range all {
		if keep(s) {
			res = append(res, s)
		}
	}
	return res, nil
}

// EventHistory returns the event log in insertion order, limited to one
// session when sessionID is set.
func (e *Engine) EventHistory(ctx context.Context, sessionID string) ([]domain.WorkflowEvent, error) {
	return e.Store.ListEvents(ctx, sessionID)
}

// EventsAfter pages through the log by sequence number.
func (e *Engine) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.WorkflowEvent, error) {
	return e.Store.EventsAfter(ctx, cursor, limit)
}

func (e *Engine) LatestEventSeq(ctx context.Context) (int64, error) {
	return e.Store.LatestEventSeq(ctx)
}

// Metrics summarizes the live session set and the event log.
func (e *Engine) Metrics(ctx context.Context) (domain.SessionMetrics, error) {
	sessions, err := e.Store.ListSessions(ctx)
	if err != nil {
		return domain.SessionMetrics{}, err
	}
	history, err := e.Store.ListEvents(ctx, "")
	if err != nil {
		return domain.SessionMetrics{}, err
	}
	return computeMetrics(sessions, history), nil
}

func computeMetrics(sessions []domain.Session, history []domain.WorkflowEvent) domain.SessionMetrics {
	m := domain.SessionMetrics{
		TotalSessions:    len(sessions),
		SessionsByStatus: make(map[domain.Status]int, len(domain.Statuses)),
		FrequentIssues:   []domain.IssueCount{},
	}
	for _, st := range domain.Statuses {
		m.SessionsByStatus[st] = 0
	}
	var prep, delivery mean
	var refilled, burnedOut int
	for _, s := range sessions {
		m.SessionsByStatus[s.CurrentStatus]++
		prep.add(s.PrepStage.StartedAt, s.PrepStage.ReadyForDeliveryAt)
		delivery.add(s.DeliveryStage.PickedUpAt, s.DeliveryStage.DeliveredAt)
		if s.ServiceStage.RefillCount > 0 {
			refilled++
		}
		if s.ServiceStage.CoalBurnoutCount > 0 {
			burnedOut++
		}
	}
	m.AveragePrepTime = prep.value()
	m.AverageDeliveryTime = delivery.value()
	if n := len(sessions); n > 0 {
		m.RecoveryRate = float64(m.SessionsByStatus[domain.StatusRecovery]) / float64(n)
		m.RefillRate = float64(refilled) / float64(n)
		m.CoalBurnoutRate = float64(burnedOut) / float64(n)
	}
	m.FrequentIssues = frequentIssues(history)
	return m
}

// mean averages intervals in milliseconds, skipping incomplete ones.
type mean struct {
	total float64
	n     int
}

func (m *mean) add(from, to *time.Time) {
	if from == nil || to == nil {
		return
	}
	m.total += float64(to.Sub(*from)) / float64(time.Millisecond)
	m.n++
}

func (m mean) value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.total / float64(m.n)
}

func frequentIssues(history []domain.WorkflowEvent) []domain.IssueCount {
	counts := make(map[domain.Button]int)
	for _, evt := range history {
		for _, b := range domain.IssueButtons {
			if evt.ButtonPressed == b {
				counts[b]++
			}
		}
	}
	res := make([]domain.IssueCount, 0, len(counts))
	for b, n := range counts {
		res = append(res, domain.IssueCount{Issue: b, Count: n})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Issue < res[j].Issue
	})
	if len(res) > frequentIssueLimit {
		res = res[:frequentIssueLimit]
	}
	return res
}

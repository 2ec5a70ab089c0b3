package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/matching"
	"jobpulse/internal/domain/notification"
	"jobpulse/internal/domain/subscriber"
	"jobpulse/internal/logger"
	"jobpulse/internal/messaging"
	"jobpulse/internal/notify"
	"jobpulse/internal/pkg/workerpool"
	"jobpulse/internal/ws"

	"github.com/google/uuid"
)

var ErrInactiveSubscriber = errors.New("subscriber is inactive")

const (
	recordWriteAttempts = 3
	recordRetryPause    = 50 * time.Millisecond
)

type JobSource interface {
	Query(ctx context.Context, f job.Filter) ([]job.Job, error)
}

type Config struct {
	TickInterval    time.Duration
	MaxDaily        int
	MaxAttempts     int
	SlotLease       time.Duration
	SentLookback    time.Duration
	CandidateWindow time.Duration
	CandidateLimit  int
	Workers         int
	Times           map[notification.Window]subscriber.TimeOfDay
	WeeklyDay       time.Weekday
	WeeklyTime      subscriber.TimeOfDay
	Weights         matching.Weights
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    time.Minute,
		MaxDaily:        3,
		MaxAttempts:     3,
		SlotLease:       5 * time.Minute,
		SentLookback:    30 * 24 * time.Hour,
		CandidateWindow: 7 * 24 * time.Hour,
		CandidateLimit:  50,
		Workers:         4,
		Times: map[notification.Window]subscriber.TimeOfDay{
			notification.WindowMorning: {Hour: 8},
			notification.WindowCustom:  {Hour: 13},
			notification.WindowEvening: {Hour: 18},
		},
		WeeklyDay:  time.Monday,
		WeeklyTime: subscriber.TimeOfDay{Hour: 9},
		Weights:    matching.DefaultWeights(),
	}
}

// Delivery is the result of one attempt to serve a window.
type Delivery struct {
	SubscriberID string              `json:"subscriber_id"`
	Window       notification.Window `json:"window"`
	State        State               `json:"state"`
	Reason       string              `json:"reason,omitempty"`
	RecordID     uuid.UUID           `json:"record_id,omitempty"`
	JobKeys      []job.IdentityKey   `json:"job_keys,omitempty"`
}

func (d *Delivery) advance(to State, log logger.Logger) {
	if !CanTransition(d.State, to) {
		log.Error("invalid delivery transition", logger.String("from", string(d.State)), logger.String("to", string(to)))
	}
	d.State = to
}

type TickReport struct {
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Skipped int `json:"skipped"`
}

type Status struct {
	Running          bool                 `json:"running"`
	DueWindowsCount  int                  `json:"due_windows_count"`
	LastRunPerWindow map[string]time.Time `json:"last_run_per_window"`
}

type Scheduler struct {
	subs     subscriber.Repository
	notes    notification.Repository
	jobs     JobSource
	composer *notify.Composer
	sender   messaging.Sender
	events   ws.Publisher
	cfg      Config
	log      logger.Logger

	mu       sync.Mutex
	running  bool
	dueCount int
	lastRun  map[notification.Window]time.Time
}

func New(subs subscriber.Repository, notes notification.Repository, jobs JobSource, composer *notify.Composer, sender messaging.Sender, cfg Config, log logger.Logger, events ws.Publisher) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxDaily <= 0 {
		cfg.MaxDaily = def.MaxDaily
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SlotLease <= 0 {
		cfg.SlotLease = def.SlotLease
	}
	if cfg.SentLookback <= 0 {
		cfg.SentLookback = def.SentLookback
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = def.CandidateWindow
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Times == nil {
		cfg.Times = def.Times
	}
	if cfg.Weights == (matching.Weights{}) {
		cfg.Weights = def.Weights
	}
	if composer == nil {
		composer = notify.NewComposer()
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		subs:     subs,
		notes:    notes,
		jobs:     jobs,
		composer: composer,
		sender:   sender,
		events:   events,
		cfg:      cfg,
		log:      log,
		lastRun:  map[notification.Window]time.Time{},
	}
}

// WindowsFor lists the daily windows a subscriber opted into, in send order.
func WindowsFor(p subscriber.Profile) []notification.Window {
	switch {
	case p.Frequency <= 0:
		return nil
	case p.Frequency == 1:
		return []notification.Window{notification.WindowMorning}
	case p.Frequency == 2:
		return []notification.Window{notification.WindowMorning, notification.WindowEvening}
	default:
		return []notification.Window{notification.WindowMorning, notification.WindowCustom, notification.WindowEvening}
	}
}

// windowTime takes the subscriber's own time for the i-th window when set.
func (s *Scheduler) windowTime(p subscriber.Profile, w notification.Window) (subscriber.TimeOfDay, bool) {
	if w == notification.WindowWeeklySummary {
		return s.cfg.WeeklyTime, true
	}
	for i, pw := range WindowsFor(p) {
		if pw != w {
			continue
		}
		if i < len(p.DeliveryTimes) {
			return p.DeliveryTimes[i], true
		}
		t, ok := s.cfg.Times[w]
		return t, ok
	}
	return subscriber.TimeOfDay{}, false
}

// NextDue returns the earliest scheduled window at or after now.
func (s *Scheduler) NextDue(p subscriber.Profile, now time.Time) (notification.Window, time.Time, bool) {
	if !p.Eligible() || p.Frequency <= 0 {
		return 0, time.Time{}, false
	}
	now = now.UTC()

	var (
		bestW notification.Window
		bestT time.Time
	)
	consider := func(w notification.Window, t time.Time) {
		if t.Before(now) {
			return
		}
		if bestT.IsZero() || t.Before(bestT) {
			bestW, bestT = w, t
		}
	}
	for _, w := range WindowsFor(p) {
		tod, ok := s.windowTime(p, w)
		if !ok {
			continue
		}
		consider(w, tod.On(now))
		consider(w, tod.On(now.AddDate(0, 0, 1)))
	}
	for d := 0; d < 8; d++ {
		day := now.AddDate(0, 0, d)
		if day.Weekday() == s.cfg.WeeklyDay {
			consider(notification.WindowWeeklySummary, s.cfg.WeeklyTime.On(day))
		}
	}
	return bestW, bestT, !bestT.IsZero()
}

// dueWindows reports the windows whose time has already come today. A tick
// that was skipped does not lose its window: the next tick still sees it
// and the slot table decides whether it was served.
func (s *Scheduler) dueWindows(p subscriber.Profile, now time.Time) []notification.Window {
	passed := func(t time.Time) bool { return !now.Before(t) }
	out := make([]notification.Window, 0, 2)
	for _, w := range WindowsFor(p) {
		if tod, ok := s.windowTime(p, w); ok && passed(tod.On(now)) {
			out = append(out, w)
		}
	}
	if p.Frequency > 0 && now.Weekday() == s.cfg.WeeklyDay && passed(s.cfg.WeeklyTime.On(now)) {
		out = append(out, notification.WindowWeeklySummary)
	}
	return out
}

// retryable reports whether an existing slot should be attempted again: a
// failed send with attempts left, or a composition whose lease ran out.
func (s *Scheduler) retryable(sl notification.Slot, now time.Time) bool {
	if sl.Attempts >= s.cfg.MaxAttempts {
		return false
	}
	switch sl.Status {
	case notification.SlotFailed:
		return true
	case notification.SlotComposing:
		return !sl.ClaimedAt.Add(s.cfg.SlotLease).After(now)
	default:
		return false
	}
}

type dueItem struct {
	profile subscriber.Profile
	window  notification.Window
}

// Tick delivers every window whose time has passed today and that has no
// slot yet, plus today's slots that may be retried.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	now = now.UTC()
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return TickReport{}, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	profiles, err := s.subs.ListActive(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("list subscribers: %w", err)
	}
	slots, err := s.notes.ListSlots(ctx, now)
	if err != nil {
		return TickReport{}, fmt.Errorf("list slots: %w", err)
	}
	known := make(map[notification.SlotKey]bool, len(slots))
	for _, sl := range slots {
		known[sl.Key] = true
	}

	byID := make(map[string]subscriber.Profile, len(profiles))
	queued := map[notification.SlotKey]bool{}
	var items []dueItem
	for _, p := range profiles {
		if !p.Eligible() {
			continue
		}
		byID[p.ID] = p
		for _, w := range s.dueWindows(p, now) {
			key := notification.NewSlotKey(p.ID, w, now)
			if known[key] {
				continue
			}
			queued[key] = true
			items = append(items, dueItem{profile: p, window: w})
		}
	}

	for _, sl := range slots {
		if !s.retryable(sl, now) {
			continue
		}
		p, ok := byID[sl.Key.SubscriberID]
		if !ok || queued[sl.Key] {
			continue
		}
		queued[sl.Key] = true
		items = append(items, dueItem{profile: p, window: sl.Key.Window})
	}

	s.mu.Lock()
	s.dueCount = len(items)
	s.mu.Unlock()

	rep := TickReport{Due: len(items)}
	if len(items) == 0 {
		return rep, nil
	}

	var mu sync.Mutex
	pool := workerpool.New(s.cfg.Workers, len(items))
	results := pool.Run(ctx)
	for _, it := range items {
		pool.Submit(func(ctx context.Context) error {
			d, err := s.Deliver(ctx, it.profile, it.window, now)
			mu.Lock()
			defer mu.Unlock()
			switch d.State {
			case StateSent:
				rep.Sent++
			case StateBlocked:
				rep.Blocked++
			case StateSkipped:
				rep.Skipped++
			default:
				rep.Failed++
			}
			return err
		})
	}
	pool.Close()
	for res := range results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			s.log.Warn("delivery failed", logger.Error(res.Err))
		}
	}

	s.log.Info("delivery tick finished",
		logger.Int("due", rep.Due),
		logger.Int("sent", rep.Sent),
		logger.Int("failed", rep.Failed),
		logger.Int("blocked", rep.Blocked),
		logger.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

// Deliver runs one window for one subscriber through the state machine.
func (s *Scheduler) Deliver(ctx context.Context, p subscriber.Profile, w notification.Window, now time.Time) (Delivery, error) {
	return s.deliver(ctx, p, w, now.UTC(), false)
}

// DeliverNow serves an on-demand request in the immediate window.
func (s *Scheduler) DeliverNow(ctx context.Context, subscriberID string) (Delivery, error) {
	p, err := s.subs.GetByID(ctx, subscriberID)
	if err != nil {
		return Delivery{}, err
	}
	if !p.Active {
		return Delivery{}, ErrInactiveSubscriber
	}
	return s.deliver(ctx, p, notification.WindowImmediate, time.Now().UTC(), true)
}

func (s *Scheduler) deliver(ctx context.Context, p subscriber.Profile, w notification.Window, now time.Time, onDemand bool) (Delivery, error) {
	d := Delivery{SubscriberID: p.ID, Window: w, State: StateIdle}
	log := s.log.With(logger.String("subscriber_id", p.ID), logger.String("window", w.String()))
	defer s.markRun(w, now)

	d.advance(StateDue, log)
	if !p.Active {
		d.advance(StateSkipped, log)
		d.Reason = "inactive"
		return d, nil
	}

	key := notification.NewSlotKey(p.ID, w, now)
	outcome, err := s.notes.ClaimSlot(ctx, notification.ClaimRequest{
		Key:         key,
		MaxDaily:    s.cfg.MaxDaily,
		MaxAttempts: s.cfg.MaxAttempts,
		Lease:       s.cfg.SlotLease,
		Now:         now,
	})
	if err != nil {
		// Nothing was claimed, so the slot stays due for the next tick.
		d.Reason = "claim failed"
		return d, fmt.Errorf("claim slot %s: %w", key, err)
	}
	if outcome != notification.ClaimGranted {
		d.advance(StateSkipped, log)
		d.Reason = outcome.String()
		log.Debug("slot not claimed", logger.String("outcome", outcome.String()))
		return d, nil
	}
	d.advance(StateComposing, log)

	ranked, err := s.candidates(ctx, p, now)
	if err != nil {
		return s.fail(ctx, d, key, StateFailed, "candidates", err)
	}

	var stats *notification.Stats
	if w == notification.WindowWeeklySummary {
		if st, err := s.notes.StatsSince(ctx, p.ID, now.Add(-7*24*time.Hour)); err == nil {
			stats = &st
		} else {
			log.Warn("weekly stats unavailable", logger.Error(err))
		}
	}

	payload, err := s.composer.Compose(notify.ComposeInput{
		Subscriber:   p,
		Window:       w,
		Ranked:       ranked,
		Now:          now,
		Stats:        stats,
		AlwaysNotify: onDemand,
	})
	if err != nil {
		if errors.Is(err, notify.ErrNothingToSend) {
			return s.fail(ctx, d, key, StateSkipped, "nothing to send", nil)
		}
		return s.fail(ctx, d, key, StateFailed, "compose", err)
	}

	sent, err := s.sender.Send(ctx, p.ChannelID, payload)
	switch sent {
	case messaging.Delivered:
	case messaging.Blocked:
		if derr := s.subs.Deactivate(ctx, p.ID); derr != nil {
			log.Error("deactivate blocked subscriber failed", logger.Error(derr))
		}
		log.Info("subscriber blocked delivery, deactivated")
		return s.fail(ctx, d, key, StateBlocked, "recipient blocked", nil)
	default:
		return s.fail(ctx, d, key, StateFailed, "send", err)
	}

	rec := notification.Record{
		ID:           uuid.New(),
		SubscriberID: p.ID,
		Window:       w,
		Day:          key.Day,
		JobKeys:      payload.JobKeys,
		SentAt:       now,
	}
	d.advance(StateSent, log)
	d.JobKeys = payload.JobKeys
	if err := s.storeRecord(ctx, key, rec); err != nil {
		if !errors.Is(err, notification.ErrDuplicateRecord) {
			// The message is out; mark the slot sent so it is not claimed again.
			log.Error("record notification failed", logger.Error(err))
			if ferr := s.notes.FailSlot(context.WithoutCancel(ctx), key, notification.SlotSent, "record not stored: "+err.Error()); ferr != nil {
				log.Error("close slot failed", logger.String("slot", key.String()), logger.Error(ferr))
			}
			return d, fmt.Errorf("%s record: %w", key, err)
		}
		log.Warn("notification already recorded", logger.String("slot", key.String()))
	} else {
		d.RecordID = rec.ID
	}
	s.events.Publish(ws.NewEvent(ws.EventNotificationSent, now, map[string]any{
		"subscriber_id": p.ID,
		"window":        w.String(),
		"jobs":          len(payload.JobKeys),
		"empty":         payload.Empty,
	}))
	return d, nil
}

// storeRecord writes the record detached from ctx, retrying failures other
// than a duplicate.
func (s *Scheduler) storeRecord(ctx context.Context, key notification.SlotKey, rec notification.Record) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 0; attempt < recordWriteAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * recordRetryPause)
		}
		err = s.notes.CompleteSlot(ctx, key, rec)
		if err == nil || errors.Is(err, notification.ErrDuplicateRecord) {
			return err
		}
	}
	return err
}

func (s *Scheduler) fail(ctx context.Context, d Delivery, key notification.SlotKey, st State, reason string, cause error) (Delivery, error) {
	status := notification.SlotFailed
	switch st {
	case StateBlocked:
		status = notification.SlotBlocked
	case StateSkipped:
		status = notification.SlotSkipped
	}
	msg := reason
	if cause != nil {
		msg = reason + ": " + cause.Error()
	}
	if err := s.notes.FailSlot(context.WithoutCancel(ctx), key, status, msg); err != nil {
		s.log.Error("update slot failed", logger.String("slot", key.String()), logger.Error(err))
	}
	d.advance(st, s.log)
	d.Reason = msg
	if cause != nil {
		return d, fmt.Errorf("%s %s: %w", key, reason, cause)
	}
	return d, nil
}

// candidates ranks recent jobs the subscriber has not been sent yet. The
// store narrows by skill overlap, remote preference and link health; jobs
// without extracted skills are fetched separately and matched on their text.
func (s *Scheduler) candidates(ctx context.Context, p subscriber.Profile, now time.Time) ([]matching.Scored, error) {
	sent, err := s.notes.SentJobKeys(ctx, p.ID, now.Add(-s.cfg.SentLookback))
	if err != nil {
		return nil, err
	}
	after := now.Add(-s.cfg.CandidateWindow)
	base := job.Filter{
		ActiveOnly:    true,
		ExcludeBroken: true,
		IngestedAfter: &after,
		ExcludeKeys:   sent,
		Limit:         s.cfg.CandidateLimit * 4,
	}
	if p.Location == subscriber.LocationRemote {
		remote := true
		base.Remote = &remote
	}

	filters := []job.Filter{base}
	if skills := p.PrimarySkills(len(p.Skills)); len(skills) > 0 {
		tagged, untagged := base, base
		tagged.SkillsAny = skills
		untagged.WithoutSkills = true
		filters = []job.Filter{tagged, untagged}
	}

	seen := make(map[job.IdentityKey]struct{}, len(sent))
	for _, k := range sent {
		seen[k] = struct{}{}
	}
	var found []job.Job
	for _, f := range filters {
		jobs, err := s.jobs.Query(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if _, ok := seen[j.Key]; ok {
				continue
			}
			seen[j.Key] = struct{}{}
			found = append(found, j)
		}
	}

	ranked := matching.Rank(found, p, s.cfg.Weights, now, s.cfg.Weights.MinRelevance)
	if len(ranked) > s.cfg.CandidateLimit {
		ranked = ranked[:s.cfg.CandidateLimit]
	}
	return ranked, nil
}

func (s *Scheduler) markRun(w notification.Window, at time.Time) {
	s.mu.Lock()
	if at.After(s.lastRun[w]) {
		s.lastRun[w] = at
	}
	s.mu.Unlock()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]time.Time, len(s.lastRun))
	for w, at := range s.lastRun {
		last[w.String()] = at
	}
	return Status{Running: s.running, DueWindowsCount: s.dueCount, LastRunPerWindow: last}
}

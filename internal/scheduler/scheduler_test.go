package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jobpulse/internal/domain/job"
	"jobpulse/internal/domain/notification"
	"jobpulse/internal/domain/subscriber"
	"jobpulse/internal/messaging"
	"jobpulse/internal/notify"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSubs struct {
	mu       sync.Mutex
	profiles map[string]subscriber.Profile
}

func newMemSubs(ps ...subscriber.Profile) *memSubs {
	m := &memSubs{profiles: map[string]subscriber.Profile{}}
	for _, p := range ps {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *memSubs) GetByID(_ context.Context, id string) (subscriber.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return subscriber.Profile{}, subscriber.ErrNotFound
	}
	return p, nil
}

func (m *memSubs) ListActive(context.Context) ([]subscriber.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []subscriber.Profile{}
	for _, p := range m.profiles {
		if p.Eligible() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memSubs) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[id]
	p.Active = false
	m.profiles[id] = p
	return nil
}

type memNotes struct {
	mu      sync.Mutex
	slots   map[string]*notification.Slot
	records []notification.Record
	// completeFailures makes that many CompleteSlot calls fail first.
	completeFailures int
	completeCalls    int
}

func newMemNotes() *memNotes { return &memNotes{slots: map[string]*notification.Slot{}} }

func (m *memNotes) ClaimSlot(_ context.Context, req notification.ClaimRequest) (notification.ClaimOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[req.Key.String()]; ok {
		switch s.Status {
		case notification.SlotSent:
			return notification.ClaimAlreadySent, nil
		case notification.SlotSkipped, notification.SlotBlocked:
			return notification.ClaimClosed, nil
		case notification.SlotComposing:
			if s.ClaimedAt.Add(req.Lease).After(req.Now) {
				return notification.ClaimInFlight, nil
			}
		}
		if s.Attempts >= req.MaxAttempts {
			return notification.ClaimExhausted, nil
		}
	}
	used := 0
	for k, s := range m.slots {
		if k == req.Key.String() || s.Key.SubscriberID != req.Key.SubscriberID || !s.Key.Day.Equal(req.Key.Day) {
			continue
		}
		if s.Status == notification.SlotSent || (s.Status == notification.SlotComposing && s.ClaimedAt.Add(req.Lease).After(req.Now)) {
			used++
		}
	}
	if used >= req.MaxDaily {
		return notification.ClaimCapReached, nil
	}
	s, ok := m.slots[req.Key.String()]
	if !ok {
		s = &notification.Slot{Key: req.Key}
		m.slots[req.Key.String()] = s
	}
	s.Status = notification.SlotComposing
	s.Attempts++
	s.ClaimedAt = req.Now
	return notification.ClaimGranted, nil
}

func (m *memNotes) CompleteSlot(_ context.Context, key notification.SlotKey, rec notification.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	if m.completeFailures > 0 {
		m.completeFailures--
		return errors.New("connection reset")
	}
	for _, r := range m.records {
		if r.SubscriberID == key.SubscriberID && r.Window == key.Window && r.Day.Equal(key.Day) {
			return notification.ErrDuplicateRecord
		}
	}
	m.records = append(m.records, rec)
	m.slots[key.String()].Status = notification.SlotSent
	return nil
}

func (m *memNotes) FailSlot(_ context.Context, key notification.SlotKey, status notification.SlotStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key.String()]
	if !ok {
		s = &notification.Slot{Key: key}
		m.slots[key.String()] = s
	}
	s.Status = status
	s.LastError = reason
	return nil
}

func (m *memNotes) ListSlots(_ context.Context, day time.Time) ([]notification.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []notification.Slot{}
	for _, s := range m.slots {
		if s.Key.Day.Equal(notification.DayOf(day)) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memNotes) slot(key notification.SlotKey) *notification.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[key.String()]
}

func (m *memNotes) SentJobKeys(_ context.Context, id string, _ time.Time) ([]job.IdentityKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []job.IdentityKey{}
	for _, r := range m.records {
		if r.SubscriberID == id {
			out = append(out, r.JobKeys...)
		}
	}
	return out, nil
}

func (m *memNotes) StatsSince(context.Context, string, time.Time) (notification.Stats, error) {
	return notification.Stats{}, nil
}

func (m *memNotes) MarkClicked(context.Context, uuid.UUID, job.IdentityKey, time.Time) error {
	return nil
}

type memJobs []job.Job

func (m memJobs) Query(_ context.Context, f job.Filter) ([]job.Job, error) {
	skip := map[job.IdentityKey]bool{}
	for _, k := range f.ExcludeKeys {
		skip[k] = true
	}
	wanted := map[string]bool{}
	for _, s := range f.SkillsAny {
		wanted[s] = true
	}
	out := []job.Job{}
	for _, j := range m {
		switch {
		case skip[j.Key]:
			continue
		case f.ExcludeBroken && j.LinkState == job.LinkBroken:
			continue
		case f.Remote != nil && j.Remote != *f.Remote:
			continue
		case f.WithoutSkills && len(j.RequiredSkills) > 0:
			continue
		case len(wanted) > 0 && !overlaps(j.RequiredSkills, wanted):
			continue
		}
		out = append(out, j)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func overlaps(skills []string, wanted map[string]bool) bool {
	for _, s := range skills {
		if wanted[s] {
			return true
		}
	}
	return false
}

type spyJobs struct {
	memJobs
	mu      sync.Mutex
	filters []job.Filter
}

func (s *spyJobs) Query(ctx context.Context, f job.Filter) ([]job.Job, error) {
	s.mu.Lock()
	s.filters = append(s.filters, f)
	s.mu.Unlock()
	return s.memJobs.Query(ctx, f)
}

type scriptedSender struct {
	mu       sync.Mutex
	outcomes []messaging.Outcome
	calls    int
}

func (s *scriptedSender) Send(context.Context, string, notification.Payload) (messaging.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.outcomes) == 0 {
		return messaging.Delivered, nil
	}
	o := s.outcomes[0]
	if len(s.outcomes) > 1 {
		s.outcomes = s.outcomes[1:]
	}
	if o == messaging.Blocked {
		return o, messaging.ErrRecipientUnreachable
	}
	if o == messaging.Failed {
		return o, messaging.ErrDeliveryTransient
	}
	return o, nil
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// 2024-05-01 is a Wednesday.
var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func goProfile(freq int) subscriber.Profile {
	return subscriber.Profile{
		ID:                  "u1",
		ChannelID:           "chat-1",
		DisplayName:         "Sam",
		Language:            subscriber.LanguageGlobal,
		Location:            subscriber.LocationRemote,
		Skills:              []string{"go"},
		Frequency:           freq,
		OnboardingCompleted: true,
		Active:              true,
	}
}

func goJobs(n int) memJobs {
	out := memJobs{}
	for i := 0; i < n; i++ {
		out = append(out, job.Job{
			Key:            job.IdentityKey("remoteok:" + string(rune('a'+i))),
			Title:          "Go Developer",
			Company:        "Acme",
			Remote:         true,
			RequiredSkills: []string{"go"},
			ApplyURL:       "https://remoteok.com/jobs/1",
			LinkState:      job.LinkWorking,
			Active:         true,
			IngestedAt:     day.Add(-time.Hour),
		})
	}
	return out
}

func newTestScheduler(subs *memSubs, notes *memNotes, jobs JobSource, sender messaging.Sender) *Scheduler {
	return New(subs, notes, jobs, notify.NewComposer(), sender, DefaultConfig(), nil, nil)
}

func TestDeliver_SecondCallSameWindowSendsNothing(t *testing.T) {
	subs := newMemSubs(goProfile(1))
	notes := newMemNotes()
	sender := &scriptedSender{}
	s := newTestScheduler(subs, notes, goJobs(5), sender)

	first, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 0))
	require.NoError(t, err)
	second, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 30))
	require.NoError(t, err)

	assert.Equal(t, StateSent, first.State)
	assert.Len(t, first.JobKeys, 3)
	assert.Equal(t, StateSkipped, second.State)
	assert.Equal(t, notification.ClaimAlreadySent.String(), second.Reason)
	assert.Equal(t, 1, sender.count())
	assert.Len(t, notes.records, 1)
}

func TestDeliver_BlockedRecipientIsDeactivated(t *testing.T) {
	p := goProfile(2)
	subs := newMemSubs(p)
	notes := newMemNotes()
	sender := &scriptedSender{outcomes: []messaging.Outcome{messaging.Blocked, messaging.Delivered}}
	s := newTestScheduler(subs, notes, goJobs(3), sender)

	rep, err := s.Tick(context.Background(), at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Blocked)

	stored, err := subs.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	rep, err = s.Tick(context.Background(), at(18, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Due)
	assert.Equal(t, 1, sender.count())
	assert.Empty(t, notes.records)

	_, err = s.DeliverNow(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInactiveSubscriber)
}

func TestDeliver_DailyCapHolds(t *testing.T) {
	p := goProfile(3)
	notes := newMemNotes()
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(p), notes, goJobs(20), sender)

	windows := []notification.Window{
		notification.WindowMorning,
		notification.WindowCustom,
		notification.WindowEvening,
		notification.WindowWeeklySummary,
		notification.WindowImmediate,
	}
	states := []State{}
	for i, w := range windows {
		d, err := s.Deliver(context.Background(), p, w, at(8+i, 0))
		require.NoError(t, err)
		states = append(states, d.State)
	}

	assert.Equal(t, []State{StateSent, StateSent, StateSent, StateSkipped, StateSkipped}, states)
	assert.Len(t, notes.records, 3)
	assert.Equal(t, 3, sender.count())
}

func TestTick_RetriesFailedSlotWithinAttemptBound(t *testing.T) {
	p := goProfile(1)
	notes := newMemNotes()
	sender := &scriptedSender{outcomes: []messaging.Outcome{messaging.Failed}}
	s := newTestScheduler(newMemSubs(p), notes, goJobs(3), sender)

	rep, err := s.Tick(context.Background(), at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	for i := 1; i <= 4; i++ {
		_, err := s.Tick(context.Background(), at(8, 0).Add(time.Duration(i)*10*time.Minute))
		require.NoError(t, err)
	}
	// One scheduled attempt plus two retries.
	assert.Equal(t, 3, sender.count())
	assert.Empty(t, notes.records)
}

func TestTick_WindowDueOnceItsTimeHasPassed(t *testing.T) {
	p := goProfile(2)
	p.DeliveryTimes = []subscriber.TimeOfDay{{Hour: 7, Minute: 30}, {Hour: 20}}
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(p), newMemNotes(), goJobs(6), sender)

	rep, err := s.Tick(context.Background(), at(7, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Due)

	rep, err = s.Tick(context.Background(), at(7, 30).Add(20*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)

	rep, err = s.Tick(context.Background(), at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Due)
	assert.Equal(t, 1, sender.count())

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, at(7, 30).Add(20*time.Second), st.LastRunPerWindow["morning"])
}

func TestTick_SkippedTickStillServesTheWindow(t *testing.T) {
	notes := newMemNotes()
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(goProfile(1)), notes, goJobs(3), sender)

	// No tick ran at 08:00.
	rep, err := s.Tick(context.Background(), at(8, 1).Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Sent)

	for _, now := range []time.Time{at(8, 2), at(12, 0), at(23, 59)} {
		rep, err = s.Tick(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, 0, rep.Due, now)
	}
	assert.Equal(t, 1, sender.count())
	assert.Len(t, notes.records, 1)
}

func TestTick_ReclaimsCompositionWithExpiredLease(t *testing.T) {
	notes := newMemNotes()
	key := notification.NewSlotKey("u1", notification.WindowMorning, at(8, 0))
	notes.slots[key.String()] = &notification.Slot{Key: key, Status: notification.SlotComposing, Attempts: 1, ClaimedAt: at(8, 0)}
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(goProfile(1)), notes, goJobs(3), sender)

	rep, err := s.Tick(context.Background(), at(8, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Due)

	rep, err = s.Tick(context.Background(), at(8, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, notification.SlotSent, notes.slot(key).Status)
}

func TestTick_EmptyRankingOutsidePolicyIsSkipped(t *testing.T) {
	notes := newMemNotes()
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(goProfile(1)), notes, memJobs{}, sender)

	rep, err := s.Tick(context.Background(), at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, sender.count())

	slot := notes.slots[notification.NewSlotKey("u1", notification.WindowMorning, at(8, 0)).String()]
	require.NotNil(t, slot)
	assert.Equal(t, notification.SlotSkipped, slot.Status)
}

func TestDeliverNow_SendsEvenWithoutMatches(t *testing.T) {
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(goProfile(0)), newMemNotes(), memJobs{}, sender)

	d, err := s.DeliverNow(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, StateSent, d.State)
	assert.Equal(t, notification.WindowImmediate, d.Window)
	assert.Empty(t, d.JobKeys)
	assert.Equal(t, 1, sender.count())
}

func TestDeliver_DoesNotResendJobs(t *testing.T) {
	p := goProfile(2)
	s := newTestScheduler(newMemSubs(p), newMemNotes(), goJobs(4), &scriptedSender{})

	morning, err := s.Deliver(context.Background(), p, notification.WindowMorning, at(9, 0))
	require.NoError(t, err)
	evening, err := s.Deliver(context.Background(), p, notification.WindowEvening, at(18, 0))
	require.NoError(t, err)

	assert.Len(t, morning.JobKeys, 3)
	require.Len(t, evening.JobKeys, 1)
	assert.NotContains(t, morning.JobKeys, evening.JobKeys[0])
}

func TestNextDue(t *testing.T) {
	s := newTestScheduler(newMemSubs(), newMemNotes(), nil, &scriptedSender{})

	w, when, ok := s.NextDue(goProfile(2), at(7, 0))
	require.True(t, ok)
	assert.Equal(t, notification.WindowMorning, w)
	assert.Equal(t, at(8, 0), when)

	w, when, ok = s.NextDue(goProfile(2), at(19, 0))
	require.True(t, ok)
	assert.Equal(t, notification.WindowMorning, w)
	assert.Equal(t, at(8, 0).AddDate(0, 0, 1), when)

	// Monday 08:30: the weekly summary at 09:00 comes before the evening.
	monday := time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC)
	w, _, ok = s.NextDue(goProfile(2), monday)
	require.True(t, ok)
	assert.Equal(t, notification.WindowWeeklySummary, w)

	_, _, ok = s.NextDue(goProfile(0), at(7, 0))
	assert.False(t, ok)
}

func TestWindowsFor(t *testing.T) {
	assert.Nil(t, WindowsFor(goProfile(0)))
	assert.Equal(t, []notification.Window{notification.WindowMorning}, WindowsFor(goProfile(1)))
	assert.Equal(t, []notification.Window{notification.WindowMorning, notification.WindowEvening}, WindowsFor(goProfile(2)))
	assert.Equal(t, []notification.Window{notification.WindowMorning, notification.WindowCustom, notification.WindowEvening}, WindowsFor(goProfile(3)))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateDue))
	assert.True(t, CanTransition(StateComposing, StateBlocked))
	assert.True(t, CanTransition(StateFailed, StateDue))
	assert.False(t, CanTransition(StateSent, StateDue))
	assert.False(t, CanTransition(StateIdle, StateSent))
	assert.True(t, StateBlocked.Terminal())
	assert.False(t, StateFailed.Terminal())
}

func TestDeliver_CandidateQueryFollowsProfile(t *testing.T) {
	p := goProfile(1)
	p.Skills = []string{"Go", "PostgreSQL"}
	jobs := &spyJobs{memJobs: goJobs(2)}
	s := newTestScheduler(newMemSubs(p), newMemNotes(), jobs, &scriptedSender{})

	_, err := s.Deliver(context.Background(), p, notification.WindowMorning, at(8, 0))
	require.NoError(t, err)

	require.Len(t, jobs.filters, 2)
	tagged, untagged := jobs.filters[0], jobs.filters[1]
	assert.Equal(t, []string{"go", "postgresql"}, tagged.SkillsAny)
	require.NotNil(t, tagged.Remote)
	assert.True(t, *tagged.Remote)
	assert.True(t, tagged.ExcludeBroken)
	assert.True(t, tagged.ActiveOnly)
	assert.Equal(t, 200, tagged.Limit)
	assert.True(t, untagged.WithoutSkills)
	assert.Empty(t, untagged.SkillsAny)
	assert.True(t, untagged.ExcludeBroken)
}

func TestDeliver_FindsMatchesBeyondNewestJobs(t *testing.T) {
	var jobs memJobs
	for i := 0; i < 250; i++ {
		jobs = append(jobs, job.Job{
			Key:            job.IdentityKey(fmt.Sprintf("remotive:py-%d", i)),
			Title:          "Python Developer",
			Remote:         true,
			RequiredSkills: []string{"python"},
			ApplyURL:       "https://remotive.com/jobs/py",
			LinkState:      job.LinkWorking,
			Active:         true,
			IngestedAt:     day.Add(-time.Hour),
		})
	}
	broken := goJobs(1)[0]
	broken.Key = "remoteok:broken"
	broken.LinkState = job.LinkBroken
	old := goJobs(1)[0]
	old.Key = "remoteok:old"
	old.IngestedAt = day.Add(-48 * time.Hour)
	jobs = append(jobs, broken, old)

	s := newTestScheduler(newMemSubs(goProfile(1)), newMemNotes(), jobs, &scriptedSender{})

	d, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, StateSent, d.State)
	assert.Equal(t, []job.IdentityKey{"remoteok:old"}, d.JobKeys)
}

func TestDeliver_RecordWriteRetried(t *testing.T) {
	notes := newMemNotes()
	notes.completeFailures = 1
	s := newTestScheduler(newMemSubs(goProfile(1)), notes, goJobs(3), &scriptedSender{})

	d, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 0))
	require.NoError(t, err)
	assert.Equal(t, StateSent, d.State)
	assert.NotEqual(t, uuid.Nil, d.RecordID)
	assert.Equal(t, 2, notes.completeCalls)
	assert.Len(t, notes.records, 1)
}

func TestDeliver_UnstoredRecordIsReportedAndNotResent(t *testing.T) {
	notes := newMemNotes()
	notes.completeFailures = 10
	sender := &scriptedSender{}
	s := newTestScheduler(newMemSubs(goProfile(1)), notes, goJobs(3), sender)

	d, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 0))
	require.Error(t, err)
	assert.Equal(t, StateSent, d.State)
	assert.Equal(t, uuid.Nil, d.RecordID)
	assert.Len(t, d.JobKeys, 3)
	assert.Equal(t, 3, notes.completeCalls)

	key := notification.NewSlotKey("u1", notification.WindowMorning, at(8, 0))
	assert.Equal(t, notification.SlotSent, notes.slot(key).Status)

	again, err := s.Deliver(context.Background(), goProfile(1), notification.WindowMorning, at(8, 30))
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, again.State)
	assert.Equal(t, 1, sender.count())
}

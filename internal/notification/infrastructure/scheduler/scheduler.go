// Package scheduler implements the in-process timer wheel backed by
// durable ScheduleEntry persistence, so a restart recovers every pending
// job instead of losing it to an in-memory timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tis-trainee/notifications/internal/notification/application/ports"
	"github.com/tis-trainee/notifications/internal/notification/domain"
	"github.com/tis-trainee/notifications/pkg/logger"
)

// Scheduler arms timers for ScheduleEntry jobs and fires a registered
// handler when they come due. A per-job mutex ensures a crash-recovered
// reconciliation sweep and a live timer never both fire the same job
// concurrently.
type Scheduler struct {
	repo    domain.ScheduleRepository
	handler ports.ScheduleFireHandler
	dropped ports.ScheduleFireHandler
	log     *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	locks  map[string]*sync.Mutex
	live   bool

	reconcilePeriod time.Duration
	catchUpWindow   time.Duration
}

// New constructs a Scheduler. SetHandler must be called before Start.
func New(repo domain.ScheduleRepository, log *logger.Logger, reconcilePeriod, catchUpWindow time.Duration) *Scheduler {
	return &Scheduler{
		repo:            repo,
		log:             log,
		timers:          make(map[string]*time.Timer),
		locks:           make(map[string]*sync.Mutex),
		reconcilePeriod: reconcilePeriod,
		catchUpWindow:   catchUpWindow,
	}
}

// SetHandler registers the function invoked when a job fires normally.
func (s *Scheduler) SetHandler(handler ports.ScheduleFireHandler) {
	s.handler = handler
}

// SetDroppedHandler registers the function invoked when a missed fire with
// a zero grace window is dropped instead of replayed, so the caller can
// still record the FAILED audit entry without actually delivering.
func (s *Scheduler) SetDroppedHandler(handler ports.ScheduleFireHandler) {
	s.dropped = handler
}

// Schedule persists nothing itself (the caller owns ScheduleEntry
// persistence, per the notification service's schedule-or-send step) and
// arms a timer for jobID at fireAt.
func (s *Scheduler) Schedule(ctx context.Context, jobID string, fireAt time.Time, window time.Duration, payload []byte) error {
	s.arm(jobID, fireAt, payload)
	return nil
}

// Remove cancels a PENDING job's timer. Removing a job that does not
// exist, or one that has already fired, is a no-op.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	s.mu.Lock()
	if t, ok := s.timers[jobID]; ok {
		t.Stop()
		delete(s.timers, jobID)
	}
	s.mu.Unlock()
	return nil
}

// ListPending returns the jobIDs of every PENDING entry.
func (s *Scheduler) ListPending(ctx context.Context) ([]string, error) {
	entries, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.JobID
	}
	return ids, nil
}

func (s *Scheduler) arm(jobID string, fireAt time.Time, payload []byte) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	if existing, ok := s.timers[jobID]; ok {
		existing.Stop()
	}
	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.fire(jobID, payload)
	})
	s.mu.Unlock()
}

func (s *Scheduler) jobLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

func (s *Scheduler) fire(jobID string, payload []byte) {
	lock := s.jobLock(jobID)
	if !lock.TryLock() {
		return // another path (reconciliation sweep) is already firing this job
	}
	defer lock.Unlock()

	ctx := context.Background()
	entry, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		s.log.Warn().Str("jobId", jobID).Err(err).Msg("schedule entry missing at fire time")
		return
	}
	if err := entry.MarkFiring(); err != nil {
		return
	}
	if err := s.repo.Save(ctx, entry); err != nil {
		s.log.Error().Str("jobId", jobID).Err(err).Msg("failed to persist firing state")
		return
	}

	if s.handler != nil {
		if err := s.handler(ctx, jobID, payload); err != nil {
			s.log.Error().Str("jobId", jobID).Err(err).Msg("job handler failed")
			entry.MarkDoneWithFailure(err.Error())
			if saveErr := s.repo.Save(ctx, entry); saveErr != nil {
				s.log.Error().Str("jobId", jobID).Err(saveErr).Msg("failed to persist failed-done state")
			}
			return
		}
	}

	entry.MarkDone()
	if err := s.repo.Save(ctx, entry); err != nil {
		s.log.Error().Str("jobId", jobID).Err(err).Msg("failed to persist done state")
	}
}

// Start recovers every pending job on process start and begins the
// periodic reconciliation sweep that re-fires jobs stuck FIRING past the
// catch-up window (a crash between MarkFiring and MarkDone).
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverPending(ctx); err != nil {
		return err
	}
	s.setLive(true)
	go s.reconcileLoop(ctx)
	return nil
}

func (s *Scheduler) setLive(live bool) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

// Live reports whether the scheduler worker has started and its
// reconciliation loop is still running, for the health probe.
func (s *Scheduler) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Scheduler) recoverPending(ctx context.Context) error {
	due, err := s.repo.FindDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, entry := range due {
		if entry.IsExpired(time.Now().UTC()) {
			s.dropExpired(ctx, entry)
			continue
		}
		s.arm(entry.JobID, entry.FireAt, []byte(entry.Payload))
	}
	return nil
}

// dropExpired implements the "window=0 missed fire" half of the
// missed-fire policy: the job is marked DONE with a recorded failure
// instead of being replayed, and the registered dropped-handler (if any)
// is given a chance to write the FAILED audit entry.
func (s *Scheduler) dropExpired(ctx context.Context, entry *domain.ScheduleEntry) {
	s.log.Warn().Str("jobId", entry.JobID).Msg("dropping expired schedule entry, no grace window")
	if s.dropped != nil {
		if err := s.dropped(ctx, entry.JobID, []byte(entry.Payload)); err != nil {
			s.log.Error().Str("jobId", entry.JobID).Err(err).Msg("dropped-job audit handler failed")
		}
	}
	entry.MarkDoneWithFailure("missed fire dropped: no grace window")
	if err := s.repo.Save(ctx, entry); err != nil {
		s.log.Error().Str("jobId", entry.JobID).Err(err).Msg("failed to persist dropped state")
	}
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reconcilePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.setLive(false)
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *Scheduler) reconcileOnce(ctx context.Context) {
	stale, err := s.repo.FindStaleFiring(ctx, time.Now().UTC().Add(-s.catchUpWindow))
	if err != nil {
		s.log.Error().Err(err).Msg("reconciliation sweep failed to query stale jobs")
		return
	}
	for _, entry := range stale {
		s.log.Warn().Str("jobId", entry.JobID).Msg("re-firing stuck schedule entry")
		entry.State = domain.ScheduleStatePending
		if err := s.repo.Save(ctx, entry); err != nil {
			s.log.Error().Str("jobId", entry.JobID).Err(err).Msg("failed to reset stuck schedule entry")
			continue
		}
		s.fire(entry.JobID, []byte(entry.Payload))
	}

	due, err := s.repo.FindDue(ctx, time.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("reconciliation sweep failed to query due jobs")
		return
	}
	for _, entry := range due {
		if entry.IsExpired(time.Now().UTC()) {
			s.dropExpired(ctx, entry)
			continue
		}
		s.arm(entry.JobID, entry.FireAt, []byte(entry.Payload))
	}
}

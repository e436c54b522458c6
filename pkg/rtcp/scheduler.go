package rtcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

const (
	stateIdle            = "idle"
	stateReportScheduled = "report_scheduled"
	stateByeScheduled    = "bye_scheduled"
	stateTerminated      = "terminated"

	eventScheduleReport = "schedule_report"
	eventReconsider     = "reconsider"
	eventScheduleBye    = "schedule_bye"
	eventTerminate      = "terminate"
	eventReset          = "reset"
)

// TransmitFunc builds and sends the compound packet for kind, returning its
// wire size for the avg_rtcp_size EWMA. The scheduler never touches the
// codec or the transport directly; it is supplied by the session.
type TransmitFunc func(kind TaskKind) (sizeBytes int, err error)

// Scheduler owns the single pending transmission task (spec §4.3): the one
// timer that fires either a REPORT or a BYE, reconsidering the RFC 3550
// interval at every expiry. Modeled as a looplab/fsm state machine, grounded
// directly on pkg/dialog/dialog.go's initFSM/fsm.NewFSM usage in the same
// teacher repository — there driving SIP dialog states, here driving the
// scheduler's Idle/ReportScheduled/ByeScheduled/Terminated states.
type Scheduler struct {
	mu  sync.Mutex
	fsm *fsm.FSM

	clock     Clock
	stats     RtpStatistics
	log       StructuredLogger
	transmit  TransmitFunc
	onExpiryFailure func(error) // forces session teardown (ErrExpiryFailure)

	timer       *time.Timer
	tn          time.Time // absolute deadline of the currently armed timer
	pendingKind TaskKind
	tp          time.Time
	initial     bool
}

// NewScheduler constructs an idle scheduler. transmit is called from the
// timer goroutine with the scheduler's own lock held, not the session's;
// onExpiryFailure is invoked when ExpiryFailure policy applies.
func NewScheduler(clock Clock, stats RtpStatistics, log StructuredLogger, transmit TransmitFunc, onExpiryFailure func(error)) *Scheduler {
	s := &Scheduler{
		clock:           clock,
		stats:           stats,
		log:             log.WithComponent("scheduler"),
		transmit:        transmit,
		onExpiryFailure: onExpiryFailure,
	}
	s.fsm = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventScheduleReport, Src: []string{stateIdle, stateReportScheduled}, Dst: stateReportScheduled},
			{Name: eventReconsider, Src: []string{stateReportScheduled}, Dst: stateReportScheduled},
			{Name: eventReconsider, Src: []string{stateByeScheduled}, Dst: stateByeScheduled},
			{Name: eventScheduleBye, Src: []string{stateIdle, stateReportScheduled}, Dst: stateByeScheduled},
			{Name: eventTerminate, Src: []string{stateByeScheduled, stateReportScheduled, stateIdle}, Dst: stateTerminated},
			{Name: eventReset, Src: []string{stateIdle, stateReportScheduled, stateByeScheduled, stateTerminated}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.log.Debug("scheduler transition", String("event", e.Event), String("dst", e.Dst))
			},
		},
	)
	return s
}

// State returns the FSM's current state name, for metrics/logging.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// Rebind swaps the statistics table the scheduler reads/writes, so a
// Reset() that replaces the session's *Statistics doesn't leave the
// scheduler reading the stale, pre-reset table on the next Join() (spec
// §4.6 reusability).
func (s *Scheduler) Rebind(stats RtpStatistics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

// ScheduleFirstReport installs the first REPORT task on join (spec §4.6):
// initial=true, tp=tc, T drawn with initial=true, tn=tc+T.
func (s *Scheduler) ScheduleFirstReport() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.initial = true
	s.tp = now
	s.pendingKind = TaskReport
	interval := s.stats.RtcpInterval(true)
	return s.arm(now, interval, eventScheduleReport)
}

// ScheduleBye installs the single BYE task on leave (spec §4.6): tp is
// reset to tc here, initial is forced true so Tmin halves, and the BYE is
// scheduled once — never dropped, only delayed.
func (s *Scheduler) ScheduleBye() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.initial = true
	s.tp = now
	s.pendingKind = TaskBye
	interval := s.stats.RtcpInterval(true)
	return s.arm(now, interval, eventScheduleBye)
}

// ReverseReconsider contracts tn and tp on BYE-driven membership shrinkage
// (spec §4.2/§4.4), in floating point — never the truncating integer
// division the original source used (SPEC_FULL.md REDESIGN FLAGS).
func (s *Scheduler) ReverseReconsider(members, pmembers int) error {
	if pmembers == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fsm.Current() != stateReportScheduled {
		return nil
	}

	now := s.clock.Now()
	ratio := float64(members) / float64(pmembers)

	tn := s.currentDeadline()
	newTn := now.Add(time.Duration(ratio * float64(tn.Sub(now))))
	newTp := now.Add(-time.Duration(ratio * float64(now.Sub(s.tp))))
	s.tp = newTp

	s.stats.ConfirmMembers()
	return s.armAt(now, newTn, eventReconsider)
}

// currentDeadline returns the absolute time the armed timer is due to fire.
// Caller holds mu.
func (s *Scheduler) currentDeadline() time.Time {
	// time.Timer does not expose its remaining duration, so the scheduler
	// records tn explicitly every time it arms the timer.
	return s.tn
}

// armAt arms the timer to fire at the absolute deadline tn.
func (s *Scheduler) armAt(now, tn time.Time, event string) error {
	d := tn.Sub(now)
	if d < 0 {
		d = 0
	}
	return s.armDuration(d, tn, event)
}

func (s *Scheduler) arm(now time.Time, interval time.Duration, event string) error {
	return s.armDuration(interval, now.Add(interval), event)
}

func (s *Scheduler) armDuration(d time.Duration, tn time.Time, event string) error {
	if s.fsm.Current() == stateTerminated {
		return newError(ErrTimerClosed, "arm", fmt.Errorf("scheduler terminated"))
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.tn = tn
	s.timer = time.AfterFunc(d, s.fire)
	if err := s.fsm.Event(context.Background(), event); err != nil && !isNoTransitionErr(err) {
		return newError(ErrTimerClosed, "arm", err)
	}
	return nil
}

func isNoTransitionErr(err error) bool {
	_, ok := err.(fsm.NoTransitionError)
	return ok
}

// fire is the timer callback: it reconsiders the interval, sends if due,
// and reschedules — the heart of spec §4.3.
func (s *Scheduler) fire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fsm.Current() == stateTerminated {
		return
	}

	now := s.clock.Now()
	interval := s.stats.RtcpInterval(s.initial)
	tn := s.tp.Add(interval)

	if tn.After(now) {
		// Not actually due yet (membership/bandwidth shifted since this
		// timer was armed); reschedule without sending.
		if err := s.armAt(now, tn, eventReconsider); err != nil {
			s.fail(err)
		}
		return
	}

	kind := s.pendingKind
	size, err := s.transmit(kind)
	if err != nil {
		if IsKind(err, ErrCryptoPending) || IsKind(err, ErrTransportFailure) {
			// spec §4.5: RTCP I/O while secure and not yet handshake_complete
			// is silently dropped, not an expiry failure. spec §7: transport
			// failures are logged and the scheduler keeps running; stats are
			// not updated for the failed packet. Neither tears the session
			// down — just redraw the interval and try again at the next
			// expiry.
			s.log.Warn("transmit deferred this expiry, rescheduling", Err(err))
			next := s.stats.RtcpInterval(s.initial)
			if rearmErr := s.arm(now, next, eventReconsider); rearmErr != nil {
				s.fail(rearmErr)
			}
			return
		}
		s.fail(newError(ErrExpiryFailure, "fire", err))
		return
	}

	s.initial = false
	s.tp = now

	if kind == TaskBye {
		if err := s.fsm.Event(context.Background(), eventTerminate); err != nil && !isNoTransitionErr(err) {
			s.log.Warn("scheduler terminate transition failed", Err(err))
		}
		return
	}

	s.stats.OnRtcpSent(size)
	s.stats.ConfirmMembers()

	next := s.stats.RtcpInterval(false)
	if err := s.arm(now, next, eventReconsider); err != nil {
		s.fail(err)
	}
}

func (s *Scheduler) fail(err error) {
	if IsKind(err, ErrTimerClosed) {
		s.log.Warn("scheduler timer closed, scheduling stops", Err(err))
		_ = s.fsm.Event(context.Background(), eventTerminate)
		return
	}
	s.log.Error("scheduler expiry failure", Err(err))
	if s.onExpiryFailure != nil {
		s.onExpiryFailure(err)
	}
	_ = s.fsm.Event(context.Background(), eventTerminate)
}

// Cancel stops the pending timer without transitioning the FSM to
// Terminated, for any caller that only needs to stop the clock. Leave does
// not call it: leave_rtp_session cancels the sweep but deliberately leaves
// the tx timer alone so the BYE can fire (spec §5 cancellation rules).
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Reset cancels the pending timer and returns the FSM to Idle (spec §4.6
// reset()).
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	_ = s.fsm.Event(context.Background(), eventReset)
}

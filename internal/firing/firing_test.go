package firing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"kiln_control/internal/clock"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type transition struct {
	on bool
	at time.Time
}

// recordingActuator logs every write with the clock time it happened at.
type recordingActuator struct {
	mu      sync.Mutex
	clk     clock.Clock
	calls   []transition
	failOn  func(on bool, n int) error
	onWrite func(n int)
}

func (a *recordingActuator) Set(on bool) error {
	a.mu.Lock()
	n := len(a.calls)
	a.mu.Unlock()
	if a.failOn != nil {
		if err := a.failOn(on, n); err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.calls = append(a.calls, transition{on: on, at: a.clk.Now()})
	n = len(a.calls)
	a.mu.Unlock()
	if a.onWrite != nil {
		a.onWrite(n)
	}
	return nil
}

func (a *recordingActuator) snapshot() []transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transition(nil), a.calls...)
}

// budgetClock is a manual clock that cancels the run after a number of waits,
// so engines with no transitions still terminate.
type budgetClock struct {
	*clock.Manual
	waits  int
	limit  int
	cancel context.CancelFunc
}

func (c *budgetClock) After(d time.Duration) <-chan time.Time {
	c.waits++
	if c.waits >= c.limit {
		c.cancel()
	}
	return c.Manual.After(d)
}

func newBudgetClock(limit int) (*budgetClock, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &budgetClock{Manual: clock.NewManual(t0), limit: limit, cancel: cancel}, ctx
}

func TestDutyCell_ClampsAndSequences(t *testing.T) {
	var c DutyCell
	if got := c.Load(); got.Duty != 0 || got.Seq != 0 {
		t.Fatalf("empty cell = %+v", got)
	}
	cases := []struct {
		in, want float64
	}{
		{0.4, 0.4},
		{-2, 0},
		{7, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for i, tc := range cases {
		c.Store(tc.in, t0)
		got := c.Load()
		if got.Duty != tc.want {
			t.Fatalf("Store(%v) -> %v, want %v", tc.in, got.Duty, tc.want)
		}
		if got.Seq != uint64(i+1) {
			t.Fatalf("seq = %d, want %d", got.Seq, i+1)
		}
	}
}

func TestTimeProportional_OnTimeMatchesDuty(t *testing.T) {
	clk := clock.NewManual(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const cycles = 5
	act := &recordingActuator{clk: clk}
	// initial OFF, then ON/OFF per cycle
	act.onWrite = func(n int) {
		if n >= 1+2*cycles {
			cancel()
		}
	}

	e, err := NewTimeProportional(act, time.Second, 0, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Publish(0.25)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := act.snapshot()
	if calls[0].on {
		t.Fatalf("first write must be OFF")
	}
	for i := 0; i < cycles; i++ {
		on, off := calls[1+2*i], calls[2+2*i]
		if !on.on || off.on {
			t.Fatalf("cycle %d: unexpected order %+v %+v", i, on, off)
		}
		if got := off.at.Sub(on.at); got != 250*time.Millisecond {
			t.Fatalf("cycle %d: on for %v, want 250ms", i, got)
		}
		if want := t0.Add(time.Duration(i) * time.Second); !on.at.Equal(want) {
			t.Fatalf("cycle %d started at %v, want %v", i, on.at, want)
		}
	}
	if last := calls[len(calls)-1]; last.on {
		t.Fatalf("actuator left ON after stop")
	}
	if e.State() != Idle {
		t.Fatalf("state after stop = %v", e.State())
	}
}

func TestTimeProportional_DutyChangeAppliesAtBoundary(t *testing.T) {
	clk := clock.NewManual(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var e *TimeProportional
	act := &recordingActuator{clk: clk}
	act.onWrite = func(n int) {
		switch n {
		case 2:
			// first ON: change duty mid-cycle
			e.Publish(0.75)
		case 5:
			cancel()
		}
	}
	e, _ = NewTimeProportional(act, time.Second, 0, clk, nil)
	e.Publish(0.5)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := act.snapshot()
	if got := calls[2].at.Sub(calls[1].at); got != 500*time.Millisecond {
		t.Fatalf("first cycle on for %v, want 500ms", got)
	}
	if !calls[3].on || !calls[3].at.Equal(t0.Add(time.Second)) {
		t.Fatalf("second cycle start = %+v", calls[3])
	}
	if got := calls[4].at.Sub(calls[3].at); got != 750*time.Millisecond {
		t.Fatalf("second cycle on for %v, want 750ms", got)
	}
}

func TestTimeProportional_ZeroDutyNeverTurnsOn(t *testing.T) {
	clk, ctx := newBudgetClock(10)
	act := &recordingActuator{clk: clk}
	e, _ := NewTimeProportional(act, time.Second, 0, clk, nil)
	e.Publish(0)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range act.snapshot() {
		if c.on {
			t.Fatalf("actuator turned ON at duty 0: %+v", c)
		}
	}
	if st := e.Stats(); st.Cycles < 8 || st.OnTime != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTimeProportional_FullDutyStaysOn(t *testing.T) {
	clk, ctx := newBudgetClock(10)
	act := &recordingActuator{clk: clk}
	e, _ := NewTimeProportional(act, time.Second, 0, clk, nil)
	e.Publish(1)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := act.snapshot()
	// OFF at start, ON once, OFF on stop
	if len(calls) != 3 || calls[0].on || !calls[1].on || calls[2].on {
		t.Fatalf("writes = %+v", calls)
	}
	st := e.Stats()
	if st.OnTime != st.Elapsed {
		t.Fatalf("on %v != elapsed %v at full duty", st.OnTime, st.Elapsed)
	}
}

func TestTimeProportional_ActuatorOnFailure(t *testing.T) {
	clk := clock.NewManual(t0)
	act := &recordingActuator{clk: clk}
	act.failOn = func(on bool, _ int) error {
		if on {
			return errors.New("gpio busy")
		}
		return nil
	}
	e, _ := NewTimeProportional(act, time.Second, 0, clk, nil)
	e.Publish(0.5)

	err := e.Run(context.Background())
	if !errors.Is(err, ErrActuator) {
		t.Fatalf("err = %v, want ErrActuator", err)
	}
	if errors.Is(err, ErrSafetyFault) {
		t.Fatalf("OFF succeeded, should not be a safety fault: %v", err)
	}
	calls := act.snapshot()
	if last := calls[len(calls)-1]; last.on {
		t.Fatalf("actuator not forced OFF")
	}
	if e.Stats().LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestTimeProportional_OffFailureIsSafetyFault(t *testing.T) {
	clk := clock.NewManual(t0)
	act := &recordingActuator{clk: clk}
	act.failOn = func(on bool, n int) error {
		if !on && n > 0 {
			return errors.New("relay welded")
		}
		return nil
	}
	e, _ := NewTimeProportional(act, time.Second, 0, clk, nil)
	e.Publish(0.5)

	err := e.Run(context.Background())
	if !errors.Is(err, ErrSafetyFault) || !errors.Is(err, ErrActuator) {
		t.Fatalf("err = %v, want safety fault wrapping actuator failure", err)
	}
}

func TestTimeProportional_StaleCommandFlagged(t *testing.T) {
	clk, ctx := newBudgetClock(12)
	act := &recordingActuator{clk: clk}
	e, _ := NewTimeProportional(act, time.Second, 3*time.Second, clk, nil)
	e.Publish(0.5)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := e.Stats()
	if !st.Stale {
		t.Fatalf("command never republished but not flagged stale: %+v", st)
	}
	if st.LastSeq != 1 {
		t.Fatalf("last seq = %d", st.LastSeq)
	}
}

func TestTimeProportional_SwitchObserver(t *testing.T) {
	clk, ctx := newBudgetClock(6)
	act := &recordingActuator{clk: clk}
	var ons int
	e, _ := NewTimeProportional(act, time.Second, 0, clk, nil)
	e.WithSwitchObserver(func(on bool, _ time.Time) {
		if on {
			ons++
		}
	})
	e.Publish(0.5)
	if err := e.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if ons == 0 {
		t.Fatalf("observer never saw an ON transition")
	}
}

func TestNewTimeProportional_Validation(t *testing.T) {
	if _, err := NewTimeProportional(nil, time.Second, 0, nil, nil); err == nil {
		t.Fatalf("nil actuator accepted")
	}
	if _, err := NewTimeProportional(ActuatorFunc(func(bool) error { return nil }), 0, 0, nil, nil); err == nil {
		t.Fatalf("zero period accepted")
	}
}

func TestZeroCross_OnTimePerHalfCycle(t *testing.T) {
	clk := clock.NewManual(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const cycles = 4
	act := &recordingActuator{clk: clk}
	act.onWrite = func(n int) {
		if n >= 1+2*cycles {
			cancel()
		}
	}
	sig := NewLineSignal(50, clk)
	e, err := NewZeroCross(act, sig, sig.HalfCycle(), 0, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.Publish(0.5)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := act.snapshot()
	for i := 0; i < cycles; i++ {
		on, off := calls[1+2*i], calls[2+2*i]
		if got := off.at.Sub(on.at); got != 5*time.Millisecond {
			t.Fatalf("half cycle %d: on %v, want 5ms", i, got)
		}
		if i > 0 {
			if gap := on.at.Sub(calls[2*i-1].at); gap != 10*time.Millisecond {
				t.Fatalf("edges %v apart, want 10ms", gap)
			}
		}
	}
	if e.OnTime(2) != sig.HalfCycle() || e.OnTime(-1) != 0 {
		t.Fatalf("OnTime not clamped")
	}
}

func TestZeroCross_FullAndZeroDuty(t *testing.T) {
	for _, duty := range []float64{0, 1} {
		clk, ctx := newBudgetClock(8)
		act := &recordingActuator{clk: clk}
		sig := NewLineSignal(50, clk)
		e, _ := NewZeroCross(act, sig, sig.HalfCycle(), 0, clk, nil)
		e.Publish(duty)
		if err := e.Run(ctx); err != nil {
			t.Fatalf("duty %v: %v", duty, err)
		}
		var ons int
		for _, c := range act.snapshot() {
			if c.on {
				ons++
			}
		}
		want := 0
		if duty == 1 {
			want = 1
		}
		if ons != want {
			t.Fatalf("duty %v: %d ON writes, want %d", duty, ons, want)
		}
	}
}

type flakySignal struct {
	misses int
	cancel context.CancelFunc
	err    error
}

func (s *flakySignal) WaitForEdge(ctx context.Context) (time.Time, error) {
	if s.err != nil {
		return time.Time{}, s.err
	}
	s.misses++
	if s.misses >= 3 {
		s.cancel()
	}
	return time.Time{}, ErrNoEdge
}

func TestZeroCross_MissingEdgesHoldOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.NewManual(t0)
	act := &recordingActuator{clk: clk}
	e, _ := NewZeroCross(act, &flakySignal{cancel: cancel}, 10*time.Millisecond, 0, clk, nil)
	e.Publish(1)

	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range act.snapshot() {
		if c.on {
			t.Fatalf("fired without a zero-cross reference")
		}
	}
	if !e.Stats().Stale {
		t.Fatalf("lost edges not reported as stale")
	}
}

func TestZeroCross_SignalErrorStops(t *testing.T) {
	clk := clock.NewManual(t0)
	act := &recordingActuator{clk: clk}
	boom := errors.New("edge fd closed")
	e, _ := NewZeroCross(act, &flakySignal{err: boom}, 10*time.Millisecond, 0, clk, nil)
	if err := e.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want signal error", err)
	}
	calls := act.snapshot()
	if len(calls) == 0 || calls[len(calls)-1].on {
		t.Fatalf("actuator not OFF after signal failure")
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "IDLE" || CycleOn.String() != "CYCLE_ON" || CycleOff.String() != "CYCLE_OFF" {
		t.Fatalf("unexpected state names")
	}
}

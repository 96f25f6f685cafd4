package sched

import (
	"sync"
	"time"
)

// Timer is a single scheduled callback owned by a TimerPool. Stop and
// Reset are well-defined even when called from within the callback
// itself, per spec §4.K.
type Timer struct {
	pool      *TimerPool
	interval  time.Duration
	oneShot   bool
	callback  func()
	deadline  time.Time
	cancelled bool
}

// Stop removes the timer from its pool's schedule. A no-op if the timer
// already fired (one-shot) or was already stopped.
func (t *Timer) Stop() {
	t.pool.remove(t)
}

// Reset reschedules the timer with a new interval, computed from now.
func (t *Timer) Reset(interval time.Duration) {
	t.pool.reset(t, interval)
}

// TimerPool is a single scheduling goroutine maintaining an unordered
// list of Timers, scanned for the nearest deadline. Callbacks run on the pool goroutine;
// long work must be handed to a WorkerPool rather than run inline.
type TimerPool struct {
	mu      sync.Mutex
	timers  []*Timer
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewTimerPool starts the scheduling goroutine.
func NewTimerPool() *TimerPool {
	p := &TimerPool{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

// After schedules a one-shot callback to fire once after interval.
func (p *TimerPool) After(interval time.Duration, callback func()) *Timer {
	return p.schedule(interval, true, callback)
}

// Every schedules a periodic callback, rescheduled automatically after
// each firing until Stop is called.
func (p *TimerPool) Every(interval time.Duration, callback func()) *Timer {
	return p.schedule(interval, false, callback)
}

func (p *TimerPool) schedule(interval time.Duration, oneShot bool, callback func()) *Timer {
	t := &Timer{
		pool:     p,
		interval: interval,
		oneShot:  oneShot,
		callback: callback,
		deadline: time.Now().Add(interval),
	}
	p.mu.Lock()
	p.timers = append(p.timers, t)
	p.mu.Unlock()
	p.nudge()
	return t
}

func (p *TimerPool) remove(t *Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.cancelled = true
	for i, existing := range p.timers {
		if existing == t {
			p.timers = append(p.timers[:i], p.timers[i+1:]...)
			break
		}
	}
}

func (p *TimerPool) reset(t *Timer, interval time.Duration) {
	p.mu.Lock()
	t.interval = interval
	t.deadline = time.Now().Add(interval)
	t.cancelled = false
	found := false
	for _, existing := range p.timers {
		if existing == t {
			found = true
			break
		}
	}
	if !found {
		p.timers = append(p.timers, t)
	}
	p.mu.Unlock()
	p.nudge()
}

func (p *TimerPool) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop halts the scheduling goroutine; no further callbacks fire.
func (p *TimerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	close(p.done)
}

func (p *TimerPool) run() {
	for {
		p.mu.Lock()
		next, has := p.nearestLocked()
		p.mu.Unlock()

		var wait time.Duration
		if has {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}

		timer := time.NewTimer(wait)
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
			continue
		case <-timer.C:
			p.fireDue()
		}
	}
}

func (p *TimerPool) nearestLocked() (time.Time, bool) {
	if len(p.timers) == 0 {
		return time.Time{}, false
	}
	nearest := p.timers[0].deadline
	for _, t := range p.timers[1:] {
		if t.deadline.Before(nearest) {
			nearest = t.deadline
		}
	}
	return nearest, true
}

func (p *TimerPool) fireDue() {
	now := time.Now()
	var due []*Timer

	p.mu.Lock()
	remaining := p.timers[:0]
	for _, t := range p.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
			continue
		}
		remaining = append(remaining, t)
	}
	p.timers = remaining
	for _, t := range due {
		if !t.oneShot && !t.cancelled {
			t.deadline = now.Add(t.interval)
			p.timers = append(p.timers, t)
		}
	}
	p.mu.Unlock()

	for _, t := range due {
		if t.cancelled {
			continue
		}
		t.callback()
	}
}

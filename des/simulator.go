// Package des is a small discrete-event scheduler. Actors exchange events
// through a single time-ordered queue; the simulated clock jumps from one
// event to the next.
package des

import (
	"container/heap"
	"time"
)

// Actor reacts to an event delivered at simulated time now and returns the
// events it wants to schedule in response.
type Actor interface {
	HandleEvent(payload any, from Actor, now time.Duration) []Event
}

// Event is an event to be delivered to To after Delay.
type Event struct {
	Payload any
	To      Actor // nil means delivering to the sender itself
	Delay   time.Duration
}

// Simulator delivers events in time order. Events due at the same instant are
// delivered in the order they were scheduled.
type Simulator struct {
	time    time.Duration
	mq      priorityQueue
	seq     int
	stopped bool
}

// Pending returns the number of events waiting in the queue.
func (s *Simulator) Pending() int {
	return len(s.mq)
}

// Delivered returns the number of events handed to actors so far.
func (s *Simulator) Delivered() int {
	return s.seq - len(s.mq)
}

func (s *Simulator) Drained() bool {
	return len(s.mq) == 0
}

// Time returns the current simulated time.
func (s *Simulator) Time() time.Duration {
	return s.time
}

// Stop makes Run and RunUntil return after the event being delivered. It is
// meant to be called by an actor.
func (s *Simulator) Stop() {
	s.stopped = true
}

func (s *Simulator) Stopped() bool {
	return s.stopped
}

// RunUntil delivers every event due no later than t.
func (s *Simulator) RunUntil(t time.Duration) {
	for !s.stopped && !s.Drained() && s.mq[0].arrival <= t {
		s.deliverNext()
	}
	if !s.stopped && s.time < t {
		s.time = t
	}
}

// Run delivers events until the queue drains or an actor calls Stop.
func (s *Simulator) Run() {
	for !s.stopped && !s.Drained() {
		s.deliverNext()
	}
}

// Schedule queues ev as sent by from at the current time.
func (s *Simulator) Schedule(ev Event, from Actor) {
	to := ev.To
	if to == nil {
		to = from
	}
	heap.Push(&s.mq, queuedEvent{s.time + ev.Delay, s.seq, from, to, ev.Payload})
	s.seq += 1
}

func (s *Simulator) deliverNext() {
	m := heap.Pop(&s.mq).(queuedEvent)
	if m.arrival < s.time {
		panic("time reversal")
	}
	s.time = m.arrival
	for _, ev := range m.to.HandleEvent(m.payload, m.from, s.time) {
		s.Schedule(ev, m.to)
	}
}

type queuedEvent struct {
	arrival time.Duration
	seq     int
	from    Actor
	to      Actor
	payload any
}

type priorityQueue []queuedEvent

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].arrival < pq[j].arrival {
		return true
	} else if pq[i].arrival == pq[j].arrival {
		return pq[i].seq < pq[j].seq
	}
	return false
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(queuedEvent))
}

func (pq *priorityQueue) Pop() any {
	idx := len(*pq) - 1
	res := (*pq)[idx]
	(*pq)[idx].payload = nil
	*pq = (*pq)[0:idx]
	return res
}

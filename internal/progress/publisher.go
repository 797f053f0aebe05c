package progress

import (
	"sync"
	"time"
)

const publishBuffer = 256

// Publisher fans progress events out to sinks from a dedicated goroutine.
// Publish never blocks: if the buffer is full the event is dropped, since a
// slow consumer must not stall chunk dispatch.
type Publisher struct {
	ch    chan Event
	sinks []Sink

	closeOnce sync.Once
	done      chan struct{}
}

func NewPublisher(sinks ...Sink) *Publisher {
	p := &Publisher{
		ch:    make(chan Event, publishBuffer),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Publisher) loop() {
	for ev := range p.ch {
		for _, s := range p.sinks {
			s.Handle(ev)
		}
	}
	close(p.done)
}

// Publish enqueues an event, stamping it if the caller did not.
func (p *Publisher) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case p.ch <- ev:
	default:
	}
}

// Close drains pending events and stops the fan-out goroutine.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.ch)
	})
	<-p.done
}

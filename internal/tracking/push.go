package tracking

import (
	"context"
	"sync"
)

// PushSource is an in-process Source fed by callers, such as the HTTP
// position endpoint. Each driver has at most one live subscription; a new
// Watch replaces the previous one.
type PushSource struct {
	mu   sync.Mutex
	subs map[string]*pushSub
}

type pushSub struct {
	src      *PushSource
	driverID string
	h        Handler
	stopCtx  func() bool
	once     sync.Once
}

// NewPushSource creates an empty source.
func NewPushSource() *PushSource {
	return &PushSource{subs: make(map[string]*pushSub)}
}

// Watch implements Source. The subscription is cancelled when ctx is done.
func (p *PushSource) Watch(ctx context.Context, driverID string, _ WatchOptions, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &pushSub{src: p, driverID: driverID, h: h}
	p.mu.Lock()
	p.subs[driverID] = sub
	p.mu.Unlock()
	stop := context.AfterFunc(ctx, sub.Cancel)
	p.mu.Lock()
	sub.stopCtx = stop
	p.mu.Unlock()
	return sub, nil
}

// Push delivers pos to the driver's subscriber. It reports false when nobody
// is watching that driver.
func (p *PushSource) Push(driverID string, pos Position) bool {
	h, ok := p.handler(driverID)
	if !ok || h.OnPosition == nil {
		return false
	}
	h.OnPosition(pos)
	return true
}

// Fail delivers a device fault to the driver's subscriber.
func (p *PushSource) Fail(driverID string, perr *PositionError) bool {
	h, ok := p.handler(driverID)
	if !ok || h.OnError == nil {
		return false
	}
	h.OnError(perr)
	return true
}

// Watching reports whether driverID has a live subscription.
func (p *PushSource) Watching(driverID string) bool {
	_, ok := p.handler(driverID)
	return ok
}

// handler copies the handler out so it is invoked without p.mu held.
func (p *PushSource) handler(driverID string) (Handler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[driverID]
	if !ok {
		return Handler{}, false
	}
	return sub.h, true
}

func (s *pushSub) Cancel() {
	s.once.Do(func() {
		s.src.mu.Lock()
		if s.src.subs[s.driverID] == s {
			delete(s.src.subs, s.driverID)
		}
		stop := s.stopCtx
		s.src.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
}

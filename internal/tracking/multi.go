package tracking

import (
	"context"
	"sync"
)

// Multi watches several sources at once, so a device may report over any of
// them. Watch fails if any source refuses.
func Multi(sources ...Source) Source {
	return multiSource(sources)
}

type multiSource []Source

type multiSub struct {
	once sync.Once
	subs []Subscription
}

func (m multiSource) Watch(ctx context.Context, driverID string, opts WatchOptions, h Handler) (Subscription, error) {
	all := &multiSub{}
	for _, src := range m {
		sub, err := src.Watch(ctx, driverID, opts, h)
		if err != nil {
			all.Cancel()
			return nil, err
		}
		all.subs = append(all.subs, sub)
	}
	return all, nil
}

func (s *multiSub) Cancel() {
	s.once.Do(func() {
		for _, sub := range s.subs {
			sub.Cancel()
		}
	})
}

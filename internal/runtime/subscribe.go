package runtime

import (
	"context"

	"github.com/google/uuid"

	"postbox.dev/internal/protocol"
)

type subscriber struct {
	id string
	ch chan protocol.EventBatchItem
}

// Subscription streams committed events. Backlog holds retained events
// after the requested cursor; C carries everything committed afterwards.
type Subscription struct {
	ID      string
	Backlog []protocol.EventBatchItem
	C       <-chan protocol.EventBatchItem
}

type subscribeReq struct {
	SinceCursor uint64
	Backlog     bool
	Resp        chan Subscription
}

// Subscribe registers a subscriber. When backlog is false only new events
// are delivered. C is closed when the runtime stops.
func (r *Runtime) Subscribe(ctx context.Context, since uint64, backlog bool) (Subscription, error) {
	req := subscribeReq{SinceCursor: since, Backlog: backlog, Resp: make(chan Subscription, 1)}
	select {
	case r.subscribe <- req:
	case <-r.stop:
		return Subscription{}, ErrStopped
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
	select {
	case s := <-req.Resp:
		return s, nil
	case <-ctx.Done():
		return Subscription{}, ctx.Err()
	}
}

func (r *Runtime) Unsubscribe(id string) {
	select {
	case r.unsubscribe <- id:
	case <-r.stop:
	}
}

func (r *Runtime) handleSubscribe(req subscribeReq) {
	sub := &subscriber{id: uuid.NewString(), ch: make(chan protocol.EventBatchItem, r.cfg.SubscriberBuffer)}
	out := Subscription{ID: sub.id, C: sub.ch}
	if req.Backlog {
		for _, it := range r.retained {
			if it.Cursor > req.SinceCursor {
				out.Backlog = append(out.Backlog, it)
			}
		}
	}
	select {
	case req.Resp <- out:
		r.subs[sub.id] = sub
	default:
	}
}

func (r *Runtime) handleUnsubscribe(id string) {
	sub := r.subs[id]
	if sub == nil {
		return
	}
	delete(r.subs, id)
	close(sub.ch)
}

func (r *Runtime) closeSubscribers() {
	for id, sub := range r.subs {
		close(sub.ch)
		delete(r.subs, id)
	}
	r.publishStatus()
}

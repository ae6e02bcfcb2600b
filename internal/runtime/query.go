package runtime

import (
	"context"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

type readReq struct {
	Fn   func(l *ledger.Ledger) error
	Resp chan error
}

// View runs fn on the loop goroutine against the committed ledger.
// fn must not write.
func (r *Runtime) View(ctx context.Context, fn func(l *ledger.Ledger) error) error {
	req := readReq{Fn: fn, Resp: make(chan error, 1)}
	select {
	case r.reads <- req:
	case <-r.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) handleRead(req readReq) {
	// Reads go through a throwaway overlay so a misbehaving fn cannot commit.
	txn := ledger.NewTxn(r.store)
	err := req.Fn(ledger.New(txn, r.cfg.Rent))
	txn.Discard()
	select {
	case req.Resp <- err:
	default:
	}
}

func (r *Runtime) ReadBoard(ctx context.Context, addr ledger.Key) (postbox.BoardView, error) {
	var out postbox.BoardView
	err := r.View(ctx, func(l *ledger.Ledger) error {
		v, err := r.prog.ReadBoard(l, addr)
		out = v
		return err
	})
	return out, err
}

func (r *Runtime) ReadPost(ctx context.Context, board ledger.Key, id uint32) (postbox.PostView, error) {
	var out postbox.PostView
	err := r.View(ctx, func(l *ledger.Ledger) error {
		v, err := r.prog.ReadPost(l, board, id)
		out = v
		return err
	})
	return out, err
}

func (r *Runtime) Balance(ctx context.Context, k ledger.Key) (uint64, error) {
	var out uint64
	err := r.View(ctx, func(l *ledger.Ledger) error {
		v, err := l.Balance(k)
		out = v
		return err
	})
	return out, err
}

type eventsReq struct {
	SinceCursor uint64
	Limit       int
	Resp        chan eventsResp
}

type eventsResp struct {
	Items      []protocol.EventBatchItem
	NextCursor uint64
}

// EventsAfter returns retained events with cursor > since, oldest first.
func (r *Runtime) EventsAfter(ctx context.Context, since uint64, limit int) ([]protocol.EventBatchItem, uint64, error) {
	req := eventsReq{SinceCursor: since, Limit: limit, Resp: make(chan eventsResp, 1)}
	select {
	case r.eventsReq <- req:
	case <-r.stop:
		return nil, since, ErrStopped
	case <-ctx.Done():
		return nil, since, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp.Items, resp.NextCursor, nil
	case <-ctx.Done():
		return nil, since, ctx.Err()
	}
}

func (r *Runtime) handleEventsReq(req eventsReq) {
	items, next := r.eventsAfter(req.SinceCursor, req.Limit)
	select {
	case req.Resp <- eventsResp{Items: items, NextCursor: next}:
	default:
	}
}

func (r *Runtime) eventsAfter(since uint64, limit int) ([]protocol.EventBatchItem, uint64) {
	if limit <= 0 || limit > 5000 {
		limit = 5000
	}
	next := since
	var out []protocol.EventBatchItem
	for _, it := range r.retained {
		if it.Cursor <= since {
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, it)
		next = it.Cursor
	}
	return out, next
}

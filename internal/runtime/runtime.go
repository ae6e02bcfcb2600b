// Package runtime serialises instructions through a single goroutine,
// running each against its own ledger transaction.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"postbox.dev/internal/assets"
	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
)

var ErrStopped = errors.New("runtime stopped")

type instructionReq struct {
	In   Instruction
	Resp chan Result
}

type Runtime struct {
	cfg     Config
	prog    *postbox.Program
	store   ledger.Store
	logger  *log.Logger
	metrics *Metrics

	journal      JournalLogger
	audit        AuditLogger
	eventSinks   []EventSink
	snapshotSink chan<- snapshot.SnapshotV1

	inbox       chan instructionReq
	reads       chan readReq
	admin       chan adminSnapshotReq
	eventsReq   chan eventsReq
	subscribe   chan subscribeReq
	unsubscribe chan string
	stop        chan struct{}
	stopOnce    sync.Once

	// Owned by the loop goroutine.
	seq      uint64
	cursor   uint64
	retained []protocol.EventBatchItem
	subs     map[string]*subscriber

	status atomic.Value // Status
}

func New(cfg Config, store ledger.Store, metrics *Metrics) (*Runtime, error) {
	if store == nil {
		return nil, errors.New("runtime: nil store")
	}
	cfg = cfg.normalized()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	r := &Runtime{
		cfg:         cfg,
		prog:        postbox.New(cfg.Program),
		store:       store,
		logger:      log.New(os.Stdout, "[runtime] ", log.LstdFlags|log.Lmicroseconds),
		metrics:     metrics,
		inbox:       make(chan instructionReq, cfg.InboxSize),
		reads:       make(chan readReq, 64),
		admin:       make(chan adminSnapshotReq, 8),
		eventsReq:   make(chan eventsReq, 64),
		subscribe:   make(chan subscribeReq, 64),
		unsubscribe: make(chan string, 64),
		stop:        make(chan struct{}),
		subs:        map[string]*subscriber{},
	}
	if ps, ok := store.(PositionStore); ok {
		seq, cursor, err := ps.Position()
		if err != nil {
			return nil, fmt.Errorf("runtime: read position: %w", err)
		}
		r.seq, r.cursor = seq, cursor
	}
	r.publishStatus()
	return r, nil
}

func (r *Runtime) SetLogger(l *log.Logger)                         { r.logger = l }
func (r *Runtime) SetJournalLogger(l JournalLogger)                { r.journal = l }
func (r *Runtime) SetAuditLogger(l AuditLogger)                    { r.audit = l }
func (r *Runtime) AddEventSink(s EventSink)                        { r.eventSinks = append(r.eventSinks, s) }
func (r *Runtime) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { r.snapshotSink = ch }

func (r *Runtime) Program() *postbox.Program { return r.prog }
func (r *Runtime) Config() Config            { return r.cfg }

// Resume sets the position after restoring a snapshot. Call before Run.
func (r *Runtime) Resume(seq, cursor uint64) {
	r.seq, r.cursor = seq, cursor
	r.publishStatus()
}

func (r *Runtime) Status() Status {
	if v, ok := r.status.Load().(Status); ok {
		return v
	}
	return Status{}
}

func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.closeSubscribers()
			return ctx.Err()
		case <-r.stop:
			r.closeSubscribers()
			return nil
		case req := <-r.inbox:
			res := r.Apply(req.In)
			select {
			case req.Resp <- res:
			default:
				// Caller gave up; the result is still journaled.
			}
		case req := <-r.reads:
			r.handleRead(req)
		case req := <-r.admin:
			r.handleAdminSnapshot(req)
		case req := <-r.eventsReq:
			r.handleEventsReq(req)
		case req := <-r.subscribe:
			r.handleSubscribe(req)
		case id := <-r.unsubscribe:
			r.handleUnsubscribe(id)
		}
		r.publishStatus()
	}
}

func (r *Runtime) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Submit queues in and waits for its result. E_BUSY is returned without
// waiting when the inbox is full.
func (r *Runtime) Submit(ctx context.Context, in Instruction) (Result, error) {
	select {
	case <-r.stop:
		return Result{}, ErrStopped
	default:
	}
	req := instructionReq{In: in, Resp: make(chan Result, 1)}
	select {
	case r.inbox <- req:
	case <-r.stop:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
		return Result{ReqID: in.ReqID, Code: protocol.ErrBusy, Message: "inbox full"}, nil
	}
	select {
	case res := <-req.Resp:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Apply executes one instruction synchronously. Only the loop goroutine
// calls it once Run has started.
func (r *Runtime) Apply(in Instruction) Result {
	start := time.Now()
	seq := r.seq + 1
	res := Result{ReqID: in.ReqID, Seq: seq}

	txn := ledger.NewTxn(r.store)
	c := r.ctx(txn, in.Signer)

	var err error
	if isAdminOp(in.Op) {
		err = r.execAdmin(c, in)
	} else {
		err = r.prog.Execute(c, in.Op, in.Args)
	}

	var cs ledger.Changeset
	if err == nil {
		cs = txn.Changeset()
		if cerr := r.commit(txn, cs, seq, r.cursor+uint64(len(c.Events()))); cerr != nil {
			r.logger.Printf("commit seq=%d op=%s: %v", seq, in.Op, cerr)
			err = protocol.Errorf(protocol.ErrInternal, "commit: %v", cerr)
			cs = ledger.Changeset{}
		}
	} else {
		txn.Discard()
	}

	r.seq = seq
	if err != nil {
		res.Code = protocol.CodeOf(err)
		res.Message = err.Error()
	} else {
		res.OK = true
		for _, e := range c.Events() {
			r.cursor++
			res.Events = append(res.Events, protocol.EventBatchItem{Cursor: r.cursor, Event: e})
		}
	}

	r.savePosition()

	if r.journal != nil {
		if jerr := r.journal.WriteJournal(JournalEntry{
			Seq:    seq,
			Time:   start.UTC().Format(time.RFC3339Nano),
			ReqID:  in.ReqID,
			Signer: in.Signer,
			Op:     in.Op,
			Args:   in.Args,
			OK:     res.OK,
			Code:   res.Code,
			Events: res.Events,
			Digest: changesetDigest(cs),
		}); jerr != nil {
			r.logger.Printf("journal seq=%d op=%s: %v", seq, in.Op, jerr)
			r.metrics.JournalErrors.Inc()
		}
	}
	if r.audit != nil && res.OK {
		for _, a := range auditEntries(seq, in, cs) {
			_ = r.audit.WriteAudit(a)
		}
	}
	if res.OK && len(res.Events) > 0 {
		r.deliver(seq, res.Events)
	}

	code := res.Code
	if res.OK {
		code = "OK"
	}
	r.metrics.InstructionsTotal.WithLabelValues(in.Op, code).Inc()
	r.metrics.InstructionSeconds.WithLabelValues(in.Op).Observe(time.Since(start).Seconds())
	r.metrics.Seq.Set(float64(seq))

	if r.cfg.SnapshotEvery > 0 && seq%r.cfg.SnapshotEvery == 0 {
		if _, err := r.emitSnapshot(); err != nil {
			r.logger.Printf("snapshot seq=%d: %v", seq, err)
		}
	}
	r.publishStatus()
	return res
}

// Replay re-applies a journaled instruction and checks that it produced
// the same writes. Entries at or below the current seq are skipped.
func (r *Runtime) Replay(e JournalEntry) error {
	if e.Seq <= r.seq {
		return nil
	}
	if e.Seq != r.seq+1 {
		return fmt.Errorf("replay: gap at seq %d (have %d)", e.Seq, r.seq)
	}
	txn := ledger.NewTxn(r.store)
	c := r.ctx(txn, e.Signer)
	var err error
	if isAdminOp(e.Op) {
		err = r.execAdmin(c, Instruction{ReqID: e.ReqID, Signer: e.Signer, Op: e.Op, Args: e.Args})
	} else {
		err = r.prog.Execute(c, e.Op, e.Args)
	}
	if (err == nil) != e.OK {
		txn.Discard()
		return fmt.Errorf("replay seq %d: ok=%v, journal says ok=%v (%v)", e.Seq, err == nil, e.OK, err)
	}
	r.seq = e.Seq
	if err != nil {
		txn.Discard()
		r.savePosition()
		r.publishStatus()
		return nil
	}
	cs := txn.Changeset()
	if d := changesetDigest(cs); d != e.Digest {
		txn.Discard()
		return fmt.Errorf("replay seq %d: digest mismatch", e.Seq)
	}
	if err := r.commit(txn, cs, e.Seq, r.cursor+uint64(len(c.Events()))); err != nil {
		return fmt.Errorf("replay seq %d: commit: %w", e.Seq, err)
	}
	r.cursor += uint64(len(c.Events()))
	r.savePosition()
	r.publishStatus()
	return nil
}

// commit writes the transaction, moving the stored position with it when
// the store supports that.
func (r *Runtime) commit(txn *ledger.Txn, cs ledger.Changeset, seq, cursor uint64) error {
	pa, ok := r.store.(PositionedApplier)
	if !ok {
		return txn.Commit()
	}
	if err := pa.ApplyChangesetAt(cs, seq, cursor); err != nil {
		return err
	}
	txn.Discard()
	return nil
}

func (r *Runtime) savePosition() {
	ps, ok := r.store.(PositionStore)
	if !ok {
		return
	}
	if err := ps.SetPosition(r.seq, r.cursor); err != nil {
		r.logger.Printf("set position seq=%d: %v", r.seq, err)
	}
}

func (r *Runtime) ctx(s ledger.Store, signer ledger.Key) *postbox.Ctx {
	l := ledger.New(s, r.cfg.Rent)
	return &postbox.Ctx{Signer: signer, Ledger: l, Assets: assets.New(r.cfg.AssetsID, l)}
}

func (r *Runtime) deliver(seq uint64, items []protocol.EventBatchItem) {
	for _, it := range items {
		r.metrics.EventsTotal.WithLabelValues(it.Event.Type).Inc()
	}
	r.retained = append(r.retained, items...)
	if over := len(r.retained) - r.cfg.EventRetention; over > 0 {
		r.retained = append(r.retained[:0:0], r.retained[over:]...)
	}
	for _, s := range r.eventSinks {
		s.WriteEvents(seq, items)
	}
	for _, sub := range r.subs {
		for _, it := range items {
			select {
			case sub.ch <- it:
			default:
				r.metrics.SubscriberDrops.Inc()
			}
		}
	}
}

func (r *Runtime) publishStatus() {
	r.status.Store(Status{
		Seq:         r.seq,
		Cursor:      r.cursor,
		Subscribers: len(r.subs),
		InboxDepth:  len(r.inbox),
		Retained:    len(r.retained),
	})
}

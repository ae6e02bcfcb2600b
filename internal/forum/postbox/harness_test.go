package postbox

import (
	"testing"

	"postbox.dev/internal/assets"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

var (
	alice  = ledger.Named("alice")
	bob    = ledger.Named("bob")
	carol  = ledger.Named("carol")
	issuer = ledger.Named("issuer")
	mintX  = ledger.Named("mint-x")
)

const startingBalance = 1_000_000_000_000

type harness struct {
	t      *testing.T
	prog   *Program
	store  *ledger.MemStore
	rent   ledger.Rent
	events []protocol.Event
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	h := &harness{t: t, prog: New(cfg), store: ledger.NewMemStore(), rent: ledger.DefaultRent()}
	l := h.ledger(h.store)
	for _, k := range []ledger.Key{alice, bob, carol, issuer} {
		if err := l.Credit(k, startingBalance); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	return h
}

func (h *harness) ledger(s ledger.Store) *ledger.Ledger { return ledger.New(s, h.rent) }

func (h *harness) registry() *assets.Registry {
	return assets.New(assets.DefaultID(), h.ledger(h.store))
}

// run executes fn as one instruction: all writes commit or none do.
func (h *harness) run(signer ledger.Key, fn func(*Ctx) error) error {
	h.t.Helper()
	txn := ledger.NewTxn(h.store)
	l := h.ledger(txn)
	c := &Ctx{Signer: signer, Ledger: l, Assets: assets.New(assets.DefaultID(), l)}
	if err := fn(c); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		h.t.Fatalf("commit: %v", err)
	}
	h.events = append(h.events, c.Events()...)
	return nil
}

func (h *harness) initBoard(owner ledger.Key, subject string, owners ...ledger.Key) ledger.Key {
	h.t.Helper()
	if len(owners) == 0 {
		owners = []ledger.Key{owner}
	}
	err := h.run(owner, func(c *Ctx) error {
		return h.prog.Initialize(c, InitializeArgs{Target: owner, Subject: subject, Owners: owners})
	})
	if err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
	return BoardAddress(h.prog.ID(), owner, subject)
}

func (h *harness) createPost(signer ledger.Key, a CreatePostArgs) error {
	return h.run(signer, func(c *Ctx) error { return h.prog.CreatePost(c, a) })
}

func (h *harness) mustPost(signer ledger.Key, a CreatePostArgs) ledger.Key {
	h.t.Helper()
	if err := h.createPost(signer, a); err != nil {
		h.t.Fatalf("create post %d: %v", a.PostID, err)
	}
	return PostAddress(h.prog.ID(), a.Board, a.PostID)
}

func (h *harness) upsert(signer, board ledger.Key, d settings.Data) error {
	return h.run(signer, func(c *Ctx) error {
		return h.prog.UpsertSetting(c, UpsertSettingArgs{Board: board, Kind: d.Kind().String(), Data: settings.Entry{Data: d}})
	})
}

func (h *harness) vote(signer, board ledger.Key, id uint32, up bool, proofs ...restriction.ProofJSON) error {
	return h.voteWith(signer, VoteArgs{Board: board, PostID: id, Up: up, Proofs: proofs})
}

func (h *harness) voteWith(signer ledger.Key, a VoteArgs) error {
	return h.run(signer, func(c *Ctx) error { return h.prog.Vote(c, a) })
}

func (h *harness) record(addr ledger.Key) (ledger.Record, bool) {
	h.t.Helper()
	rec, ok, err := h.store.Record(addr)
	if err != nil {
		h.t.Fatalf("record: %v", err)
	}
	return rec, ok
}

func (h *harness) board(addr ledger.Key) *Board {
	h.t.Helper()
	rec, ok := h.record(addr)
	if !ok {
		h.t.Fatalf("board %s missing", addr.Short())
	}
	b, err := DecodeBoard(rec.Data)
	if err != nil {
		h.t.Fatalf("decode board: %v", err)
	}
	return b
}

func (h *harness) post(board ledger.Key, id uint32) (*Post, ledger.Record) {
	h.t.Helper()
	rec, ok := h.record(PostAddress(h.prog.ID(), board, id))
	if !ok {
		h.t.Fatalf("post %d missing", id)
	}
	p, err := DecodePost(rec.Data)
	if err != nil {
		h.t.Fatalf("decode post: %v", err)
	}
	return p, rec
}

func (h *harness) balance(k ledger.Key) uint64 {
	h.t.Helper()
	v, err := h.store.Balance(k)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return v
}

// giveTokens mints amount of mint to owner and returns the balance record.
func (h *harness) giveTokens(owner, mint ledger.Key, amount uint64) ledger.Key {
	h.t.Helper()
	reg := h.registry()
	if !reg.IsRegistryRecord(mint) {
		if err := reg.CreateClass(mint, issuer, issuer); err != nil {
			h.t.Fatalf("create class: %v", err)
		}
	}
	acct, err := reg.MintTo(mint, issuer, owner, amount, issuer)
	if err != nil {
		h.t.Fatalf("mint: %v", err)
	}
	return acct
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if got := protocol.CodeOf(err); got != code {
		t.Fatalf("code=%q want %q (err=%v)", got, code, err)
	}
}

func withRule(r restriction.Rule) restriction.JSON { return restriction.JSON{Rule: r} }

func settingsRule(r restriction.Rule) settings.Data { return settings.PostRestriction{Rule: r} }

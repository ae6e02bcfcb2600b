package postbox

import (
	"strings"
	"testing"

	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

func TestScenario_NewsBoard(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "news")

	h.mustPost(alice, CreatePostArgs{Board: board, PostID: 0, Data: "hi", Restriction: withRule(restriction.Null{})})
	if got := h.board(board).MaxChildID; got != 1 {
		t.Fatalf("max_child_id=%d want 1", got)
	}
	last := h.events[len(h.events)-1]
	if last.Type != protocol.EventPostCreated || last.ReplyTo != "" || last.Data != "hi" || last.PostID == nil || *last.PostID != 0 {
		t.Fatalf("event=%+v", last)
	}
	if last.Actor != alice.String() || last.Board != board.String() {
		t.Fatalf("event actors=%+v", last)
	}
	if _, rec := h.post(board, 0); rec.Owner != h.prog.ID() {
		t.Fatalf("post owned by %s", rec.Owner.Short())
	}
	if p, _ := h.post(board, 0); p.Restriction == nil || p.Restriction.Kind() != restriction.KindNull {
		t.Fatalf("restriction=%#v", p.Restriction)
	}

	if err := h.upsert(alice, board, settings.PostRestriction{Rule: restriction.TokenOwnership{Mint: mintX, Amount: 5}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: board, PostID: 1, Data: "let me in"}), protocol.ErrMissingRequiredOffsets)
	if got := h.board(board).MaxChildID; got != 1 {
		t.Fatalf("failed post moved the counter to %d", got)
	}

	acct := h.giveTokens(bob, mintX, 5)
	h.mustPost(bob, CreatePostArgs{
		Board: board, PostID: 1, Data: "holder",
		Proofs: []restriction.ProofJSON{TokenProof(0)}, Accounts: []ledger.Key{acct},
	})

	few := h.giveTokens(carol, mintX, 4)
	wantCode(t, h.createPost(carol, CreatePostArgs{
		Board: board, PostID: 2, Data: "almost",
		Proofs: []restriction.ProofJSON{TokenProof(0)}, Accounts: []ledger.Key{few},
	}), protocol.ErrMissingTokenRestriction)
}

func TestCreatePost_OwnerBypassesBoardDefault(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "club", alice, carol)
	rule := restriction.NftListAnyOwnership{Collections: []ledger.Key{ledger.Named("apes")}}
	if err := h.upsert(alice, board, settings.PostRestriction{Rule: rule}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i, owner := range []ledger.Key{alice, carol} {
		h.mustPost(owner, CreatePostArgs{Board: board, PostID: uint32(i), Data: "owner post"})
	}
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: board, PostID: 2, Data: "x"}), protocol.ErrMissingRequiredOffsets)
}

func TestCreatePost_CounterMonotonic(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "ids")
	ids := []uint32{0, 0, 3, 1, 2, 2, 5, 3, 10, 4, 1, 6, 5, 4294967295}
	seen := map[uint32]bool{}
	for _, id := range ids {
		prev := h.board(board).MaxChildID
		err := h.createPost(alice, CreatePostArgs{Board: board, PostID: id, Data: "x"})
		got := h.board(board).MaxChildID
		switch {
		case uint64(id) > uint64(prev)+1:
			wantCode(t, err, protocol.ErrPostIDTooLarge)
			if got != prev {
				t.Fatalf("id %d: rejected call moved counter %d -> %d", id, prev, got)
			}
		case seen[id]:
			wantCode(t, err, protocol.ErrPostExists)
			if got != prev {
				t.Fatalf("id %d: duplicate moved counter %d -> %d", id, prev, got)
			}
		default:
			if err != nil {
				t.Fatalf("id %d: %v", id, err)
			}
			seen[id] = true
			want := prev
			if id >= prev {
				want = prev + 1
			}
			if got != want {
				t.Fatalf("id %d: counter %d -> %d, want %d", id, prev, got, want)
			}
		}
		if got < prev || got > prev+1 {
			t.Fatalf("id %d: counter jumped %d -> %d", id, prev, got)
		}
	}
}

func TestCreatePost_Growth(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Growth = 4 })
	board := h.initBoard(alice, "wide")
	h.mustPost(alice, CreatePostArgs{Board: board, PostID: 3, Data: "skip ahead"})
	if got := h.board(board).MaxChildID; got != 4 {
		t.Fatalf("max_child_id=%d want 4", got)
	}
	wantCode(t, h.createPost(alice, CreatePostArgs{Board: board, PostID: 9, Data: "x"}), protocol.ErrPostIDTooLarge)
	h.mustPost(alice, CreatePostArgs{Board: board, PostID: 8, Data: "edge"})
}

func TestCreatePost_ReplyInheritsRestriction(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "threads")
	gate := restriction.TokenOwnership{Mint: mintX, Amount: 1}
	gated := h.mustPost(alice, CreatePostArgs{Board: board, PostID: 0, Data: "gated", Restriction: withRule(gate)})
	open := h.mustPost(alice, CreatePostArgs{Board: board, PostID: 1, Data: "open"})

	acct := h.giveTokens(bob, mintX, 1)
	proof := []restriction.ProofJSON{TokenProof(0)}
	h.mustPost(bob, CreatePostArgs{Board: board, PostID: 2, Data: "re", ReplyTo: &gated, Proofs: proof, Accounts: []ledger.Key{acct}})
	reply, rec := h.post(board, 2)
	if got, ok := reply.Restriction.(restriction.TokenOwnership); !ok || got != gate {
		t.Fatalf("reply restriction=%#v want %#v", reply.Restriction, gate)
	}
	if reply.ReplyTo == nil || *reply.ReplyTo != gated {
		t.Fatalf("reply_to=%v", reply.ReplyTo)
	}
	if len(rec.Data) != ProjectPostSize(len("re"), true, gate) {
		t.Fatalf("reply size=%d want %d", len(rec.Data), ProjectPostSize(2, true, gate))
	}
	if last := h.events[len(h.events)-1]; last.ReplyTo != gated.String() {
		t.Fatalf("event reply_to=%q", last.ReplyTo)
	}

	h.mustPost(carol, CreatePostArgs{Board: board, PostID: 3, Data: "re open", ReplyTo: &open})
	if p, _ := h.post(board, 3); p.Restriction != nil {
		t.Fatalf("reply to open post got restriction %#v", p.Restriction)
	}

	wantCode(t, h.createPost(carol, CreatePostArgs{Board: board, PostID: 4, Data: "re", ReplyTo: &gated}), protocol.ErrMissingRequiredOffsets)
	wantCode(t, h.createPost(bob, CreatePostArgs{
		Board: board, PostID: 4, Data: "re", ReplyTo: &open, Restriction: withRule(restriction.Null{}),
	}), protocol.ErrReplyCannotRestrictReplies)
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: board, PostID: 4, Data: "re", ReplyTo: &board}), protocol.ErrReplyToNotPost)
	missing := PostAddress(h.prog.ID(), board, 99)
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: board, PostID: 4, Data: "re", ReplyTo: &missing}), protocol.ErrReplyToNotPost)
}

func TestCreatePost_ReplyAcrossBoards(t *testing.T) {
	h := newHarness(t)
	gated := h.initBoard(alice, "gated")
	if err := h.upsert(alice, gated, settingsRule(restriction.TokenOwnership{Mint: mintX, Amount: 5})); err != nil {
		t.Fatalf("board rule: %v", err)
	}
	open := h.initBoard(carol, "open")
	foreign := h.mustPost(carol, CreatePostArgs{Board: open, PostID: 0, Data: "unrestricted"})

	wantCode(t, h.createPost(bob, CreatePostArgs{Board: gated, PostID: 0, Data: "sneak", ReplyTo: &foreign}), protocol.ErrReplyToNotPost)
	if _, ok := h.record(PostAddress(h.prog.ID(), gated, 0)); ok {
		t.Fatalf("reply stored on gated board")
	}
	if h.board(gated).MaxChildID != 0 {
		t.Fatalf("counter moved on rejected reply")
	}

	// Replying to something that is not a post.
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: open, PostID: 1, Data: "re", ReplyTo: &gated}), protocol.ErrReplyToNotPost)
}

func TestCreatePost_DataLimit(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "big")
	wantCode(t, h.createPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: strings.Repeat("x", MaxPostData+1)}), protocol.ErrBadRequest)

	addr := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: strings.Repeat("x", MaxPostData)})
	if p, rec := h.post(board, 0); len(p.Data) != MaxPostData || len(rec.Data) != ProjectPostSize(MaxPostData, false, nil) {
		t.Fatalf("post data=%d record=%d", len(p.Data), len(rec.Data))
	}
	err := h.run(bob, func(c *Ctx) error {
		return h.prog.EditPost(c, EditPostArgs{Board: board, PostID: 0, Data: strings.Repeat("y", MaxPostData+1)})
	})
	wantCode(t, err, protocol.ErrBadRequest)

	// A post at the limit still decodes, so its poster can remove it.
	err = h.run(bob, func(c *Ctx) error {
		return h.prog.DeleteOwnPost(c, DeleteOwnPostArgs{Board: board, PostID: 0})
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := h.record(addr); ok {
		t.Fatalf("post still present")
	}
}

func TestCreatePost_OwnerReplyBypassesByDefault(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "defaults")
	parent := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: "p", Restriction: withRule(restriction.TokenOwnership{Mint: mintX, Amount: 1})})
	if err := h.createPost(alice, CreatePostArgs{Board: board, PostID: 1, Data: "owner reply", ReplyTo: &parent}); err != nil {
		t.Fatalf("owner reply: %v", err)
	}
	wantCode(t, h.createPost(carol, CreatePostArgs{Board: board, PostID: 2, Data: "r", ReplyTo: &parent}), protocol.ErrMissingRequiredOffsets)
}

func TestCreatePost_ReplyBypassPolicy(t *testing.T) {
	for _, bypass := range []bool{false, true} {
		h := newHarness(t, func(c *Config) { c.Policy.BypassOnReply = bypass })
		board := h.initBoard(alice, "bypass")
		parent := h.mustPost(alice, CreatePostArgs{Board: board, PostID: 0, Data: "p", Restriction: withRule(restriction.TokenOwnership{Mint: mintX, Amount: 1})})
		err := h.createPost(alice, CreatePostArgs{Board: board, PostID: 1, Data: "r", ReplyTo: &parent})
		if bypass && err != nil {
			t.Fatalf("bypass on: owner reply rejected: %v", err)
		}
		if !bypass {
			wantCode(t, err, protocol.ErrMissingRequiredOffsets)
		}
	}
}

func TestCreatePost_FundsAndFees(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "fees")
	treasury := h.balance(h.prog.Config().Treasury)
	before := h.balance(bob)

	addr := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: "pay"})
	rec, _ := h.record(addr)
	if rec.Payer != bob || rec.Funding != h.rent.Minimum(len(rec.Data)) {
		t.Fatalf("record payer=%s funding=%d", rec.Payer.Short(), rec.Funding)
	}
	fee := h.prog.Config().Fees.Post
	if got := h.balance(bob); got != before-rec.Funding-fee {
		t.Fatalf("bob balance=%d want %d", got, before-rec.Funding-fee)
	}
	if got := h.balance(h.prog.Config().Treasury); got != treasury+fee {
		t.Fatalf("treasury=%d want %d", got, treasury+fee)
	}
}

func TestCreatePost_FailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "atomic")
	poor := ledger.Named("poor")
	// Enough to fund the record, not the fee.
	size := ProjectPostSize(1, false, nil)
	if err := h.ledger(h.store).Credit(poor, h.rent.Minimum(size)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	wantCode(t, h.createPost(poor, CreatePostArgs{Board: board, PostID: 0, Data: "x"}), protocol.ErrInsufficientFunds)
	if _, ok := h.record(PostAddress(h.prog.ID(), board, 0)); ok {
		t.Fatalf("post record survived a failed instruction")
	}
	if h.board(board).MaxChildID != 0 {
		t.Fatalf("counter moved")
	}
	if h.balance(poor) != h.rent.Minimum(size) {
		t.Fatalf("poor balance changed")
	}
}

func TestCreatePost_InvalidPostRestriction(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "bad")
	wantCode(t, h.createPost(alice, CreatePostArgs{
		Board: board, PostID: 0, Data: "x", Restriction: withRule(restriction.NftListAnyOwnership{}),
	}), protocol.ErrPostInvalidSettingsType)
	wantCode(t, h.createPost(alice, CreatePostArgs{Board: ledger.Named("nowhere"), PostID: 0, Data: "x"}), protocol.ErrBoardNotFound)
}

package postbox

import (
	"testing"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

func TestDeleteOwnPost_RefundsPayer(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "cleanup")
	addr := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: "oops"})
	rec, _ := h.record(addr)

	del := func(signer ledger.Key) error {
		return h.run(signer, func(c *Ctx) error {
			return h.prog.DeleteOwnPost(c, DeleteOwnPostArgs{Board: board, PostID: 0})
		})
	}
	wantCode(t, del(alice), protocol.ErrNotPoster)

	before := h.balance(bob)
	if err := del(bob); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := h.record(addr); ok {
		t.Fatalf("post still present")
	}
	if got := h.balance(bob); got != before+rec.Funding {
		t.Fatalf("refund: balance=%d want %d", got, before+rec.Funding)
	}
	ev := h.events[len(h.events)-1]
	if ev.Type != protocol.EventPostDeleted || ev.Actor != bob.String() || ev.Refund != rec.Funding || *ev.PostID != 0 {
		t.Fatalf("event=%+v", ev)
	}
	wantCode(t, del(bob), protocol.ErrPostNotFound)

	// The id stays consumed: the counter does not move back.
	if h.board(board).MaxChildID != 1 {
		t.Fatalf("counter changed on delete")
	}
}

func TestModerator_DesignateAndDelete(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "moderated")
	addr := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: "spam"})
	rec, _ := h.record(addr)

	designate := func(signer, target ledger.Key) error {
		return h.run(signer, func(c *Ctx) error {
			return h.prog.DesignateModerator(c, DesignateModeratorArgs{Board: board, Target: target})
		})
	}
	wantCode(t, designate(bob, bob), protocol.ErrNotOwner)
	if err := designate(alice, carol); err != nil {
		t.Fatalf("designate: %v", err)
	}
	mint := h.board(board).ModeratorMint
	cred := h.registry().BalanceAddress(carol, mint)
	bal, err := h.registry().ResolveBalance(cred)
	if err != nil || bal.Amount != 1 || bal.Owner != carol {
		t.Fatalf("credential=%+v err=%v", bal, err)
	}
	if ev := h.events[len(h.events)-1]; ev.Type != protocol.EventModeratorDesignated || ev.Target != carol.String() {
		t.Fatalf("event=%+v", ev)
	}

	modDelete := func(signer, balance ledger.Key) error {
		return h.run(signer, func(c *Ctx) error {
			return h.prog.DeletePostByModerator(c, DeletePostByModeratorArgs{Board: board, PostID: 0, ModeratorBalance: balance})
		})
	}
	// Someone else's credential, a foreign token and a missing record all fail.
	wantCode(t, modDelete(bob, cred), protocol.ErrNotModerator)
	wantCode(t, modDelete(bob, h.giveTokens(bob, mintX, 10)), protocol.ErrNotModerator)
	wantCode(t, modDelete(bob, ledger.Named("nothing")), protocol.ErrNotModerator)

	payerBefore := h.balance(bob)
	if err := modDelete(carol, cred); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	if _, ok := h.record(addr); ok {
		t.Fatalf("post still present")
	}
	if got := h.balance(bob); got != payerBefore+rec.Funding {
		t.Fatalf("refund went elsewhere: bob=%d want %d", got, payerBefore+rec.Funding)
	}
	if ev := h.events[len(h.events)-1]; ev.Type != protocol.EventPostDeleted || ev.Actor != carol.String() {
		t.Fatalf("event=%+v", ev)
	}
}

func TestEditPost_ResizesAndKeepsVotes(t *testing.T) {
	h := newHarness(t)
	board := h.initBoard(alice, "edits")
	addr := h.mustPost(bob, CreatePostArgs{Board: board, PostID: 0, Data: "v1"})
	if err := h.vote(carol, board, 0, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	edit := func(signer ledger.Key, data string) error {
		return h.run(signer, func(c *Ctx) error {
			return h.prog.EditPost(c, EditPostArgs{Board: board, PostID: 0, Data: data})
		})
	}
	wantCode(t, edit(alice, "hijack"), protocol.ErrNotPoster)

	if err := edit(bob, "version two, much longer than before"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	p, rec := h.post(board, 0)
	if string(p.Data) != "version two, much longer than before" || p.UpVotes != 1 || p.Poster != bob {
		t.Fatalf("post=%+v", p)
	}
	if len(rec.Data) != p.Size() || rec.Funding < h.rent.Minimum(len(rec.Data)) {
		t.Fatalf("record size=%d funding=%d", len(rec.Data), rec.Funding)
	}
	if rec.Payer != bob {
		t.Fatalf("payer changed to %s", rec.Payer.Short())
	}
	if err := edit(bob, "v3"); err != nil {
		t.Fatalf("shrink edit: %v", err)
	}
	if _, rec := h.post(board, 0); len(rec.Data) != ProjectPostSize(2, false, nil) {
		t.Fatalf("size after shrink=%d", len(rec.Data))
	}
	if ev := h.events[len(h.events)-1]; ev.Type != protocol.EventPostEdited || ev.Data != "v3" || ev.Post != addr.String() {
		t.Fatalf("event=%+v", ev)
	}
}

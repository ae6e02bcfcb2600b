package ledger

import (
	"testing"

	"postbox.dev/internal/protocol"
)

func testRent() Rent { return Rent{Overhead: 10, PerByteYear: 1, ExemptionYears: 1} }

func TestKey_TextRoundTrip(t *testing.T) {
	k := Named("alice")
	b, err := k.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Key
	if err := got.UnmarshalText(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != k {
		t.Fatalf("round trip mismatch")
	}
	if ParseOrNamed(k.String()) != k {
		t.Fatalf("ParseOrNamed should parse hex")
	}
	if ParseOrNamed("alice") != k {
		t.Fatalf("ParseOrNamed should fall back to Named")
	}
	if _, err := ParseKey("abc"); err == nil {
		t.Fatalf("expected short key rejected")
	}
}

func TestDerive_SeedBoundaries(t *testing.T) {
	p := Named("program")
	a := Derive(p, []byte("ab"), []byte("c"))
	b := Derive(p, []byte("a"), []byte("bc"))
	if a == b {
		t.Fatalf("seed boundaries collided")
	}
	if Derive(p, []byte("x")) != Derive(p, []byte("x")) {
		t.Fatalf("derive not deterministic")
	}
	if Derive(p, []byte("x")) == Derive(Named("other"), []byte("x")) {
		t.Fatalf("program id not mixed in")
	}
}

func TestLedger_CreateFundsAtRentMinimum(t *testing.T) {
	l := New(NewMemStore(), testRent())
	payer, prog, addr := Named("payer"), Named("prog"), Named("rec")
	_ = l.Credit(payer, 100)

	if err := l.Create(addr, prog, payer, 20); err != nil {
		t.Fatalf("create: %v", err)
	}
	r, ok, _ := l.Load(addr)
	if !ok || len(r.Data) != 20 || r.Funding != 30 || r.Payer != payer {
		t.Fatalf("record=%+v ok=%v", r, ok)
	}
	if bal, _ := l.Balance(payer); bal != 70 {
		t.Fatalf("payer balance=%d want 70", bal)
	}
	if err := l.Create(addr, prog, payer, 1); protocol.CodeOf(err) != protocol.ErrRecordExists {
		t.Fatalf("second create err=%v", err)
	}
}

func TestLedger_ResizeTopsUpAndNeverReclaims(t *testing.T) {
	l := New(NewMemStore(), testRent())
	payer, funder, prog, addr := Named("payer"), Named("funder"), Named("prog"), Named("rec")
	_ = l.Credit(payer, 100)
	_ = l.Credit(funder, 15)
	if err := l.Create(addr, prog, payer, 10); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := l.Resize(addr, prog, 25, funder); err != nil {
		t.Fatalf("grow: %v", err)
	}
	r, _, _ := l.Load(addr)
	if len(r.Data) != 25 || r.Funding != 35 {
		t.Fatalf("after grow len=%d funding=%d", len(r.Data), r.Funding)
	}
	if bal, _ := l.Balance(funder); bal != 0 {
		t.Fatalf("funder balance=%d want 0", bal)
	}

	if err := l.Resize(addr, prog, 5, funder); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	r, _, _ = l.Load(addr)
	if len(r.Data) != 5 || r.Funding != 35 {
		t.Fatalf("shrink must keep funding: len=%d funding=%d", len(r.Data), r.Funding)
	}

	if err := l.Resize(addr, prog, 100, funder); protocol.CodeOf(err) != protocol.ErrInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := l.Resize(addr, Named("intruder"), 6, funder); protocol.CodeOf(err) != protocol.ErrNotRecordOwner {
		t.Fatalf("expected owner check, got %v", err)
	}
}

func TestLedger_CloseRefundsPayer(t *testing.T) {
	l := New(NewMemStore(), testRent())
	payer, funder, prog, addr := Named("payer"), Named("funder"), Named("prog"), Named("rec")
	_ = l.Credit(payer, 20)
	_ = l.Credit(funder, 50)
	_ = l.Create(addr, prog, payer, 4)
	_ = l.Resize(addr, prog, 30, funder)

	refund, to, err := l.Close(addr, prog)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if to != payer || refund != 40 {
		t.Fatalf("refund=%d to=%s", refund, to.Short())
	}
	if bal, _ := l.Balance(payer); bal != 6+40 {
		t.Fatalf("payer balance=%d", bal)
	}
	if _, ok, _ := l.Load(addr); ok {
		t.Fatalf("record still present")
	}
}

func TestLedger_WriteRequiresMatchingLength(t *testing.T) {
	l := New(NewMemStore(), testRent())
	payer, prog, addr := Named("payer"), Named("prog"), Named("rec")
	_ = l.Credit(payer, 100)
	_ = l.Create(addr, prog, payer, 3)
	if err := l.Write(addr, prog, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Write(addr, prog, []byte{1, 2}); protocol.CodeOf(err) != protocol.ErrInternal {
		t.Fatalf("short write err=%v", err)
	}
}

func TestTxn_CommitAndDiscard(t *testing.T) {
	base := NewMemStore()
	_ = base.SetBalance(Named("a"), 10)

	tx := NewTxn(base)
	l := New(tx, testRent())
	if err := l.Transfer(Named("a"), Named("b"), 4); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := base.Balance(Named("b")); bal != 0 {
		t.Fatalf("write leaked before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if bal, _ := base.Balance(Named("b")); bal != 4 {
		t.Fatalf("b=%d after commit", bal)
	}

	tx = NewTxn(base)
	l = New(tx, testRent())
	_ = l.Transfer(Named("a"), Named("b"), 6)
	_ = l.Create(Named("rec"), Named("prog"), Named("b"), 0)
	tx.Discard()
	if bal, _ := base.Balance(Named("a")); bal != 6 {
		t.Fatalf("discard leaked: a=%d", bal)
	}
	if _, ok, _ := base.Record(Named("rec")); ok {
		t.Fatalf("discard leaked record")
	}
}

func TestTxn_DeleteShadowsBase(t *testing.T) {
	base := NewMemStore()
	_ = base.PutRecord(Named("rec"), Record{Owner: Named("prog"), Data: []byte{1}})
	tx := NewTxn(base)
	_ = tx.DeleteRecord(Named("rec"))
	if _, ok, _ := tx.Record(Named("rec")); ok {
		t.Fatalf("deleted record visible in txn")
	}
	if _, ok, _ := base.Record(Named("rec")); !ok {
		t.Fatalf("base mutated before commit")
	}
	_ = tx.Commit()
	if _, ok, _ := base.Record(Named("rec")); ok {
		t.Fatalf("delete not committed")
	}
}

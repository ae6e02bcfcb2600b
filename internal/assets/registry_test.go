package assets

import (
	"testing"

	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

func newRegistry(t *testing.T) (*Registry, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemStore(), ledger.Rent{Overhead: 10, PerByteYear: 1, ExemptionYears: 1})
	if err := l.Credit(ledger.Named("payer"), 1_000_000); err != nil {
		t.Fatalf("credit: %v", err)
	}
	return New(DefaultID(), l), l
}

func TestMintTo_CreatesAndAccumulates(t *testing.T) {
	r, _ := newRegistry(t)
	payer := ledger.Named("payer")
	auth := ledger.Named("authority")
	class := ledger.Named("mint-x")
	bob := ledger.Named("bob")

	if err := r.CreateClass(class, auth, payer); err != nil {
		t.Fatalf("create class: %v", err)
	}
	if err := r.CreateClass(class, auth, payer); protocol.CodeOf(err) != protocol.ErrRecordExists {
		t.Fatalf("duplicate class: %v", err)
	}
	acct, err := r.MintTo(class, auth, bob, 3, payer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if again, err := r.MintTo(class, auth, bob, 4, payer); err != nil || again != acct {
		t.Fatalf("second mint: %v %s", err, again.Short())
	}
	bal, err := r.ResolveBalance(acct)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if bal.Owner != bob || bal.Asset != class || bal.Amount != 7 {
		t.Fatalf("balance=%+v", bal)
	}
	c, _ := r.Class(class)
	if c.Supply != 7 {
		t.Fatalf("supply=%d", c.Supply)
	}

	if _, err := r.MintTo(class, bob, bob, 1, payer); protocol.CodeOf(err) != protocol.ErrAssetAuthority {
		t.Fatalf("wrong authority: %v", err)
	}
	if _, err := r.MintTo(ledger.Named("nope"), auth, bob, 1, payer); protocol.CodeOf(err) != protocol.ErrRecordNotFound {
		t.Fatalf("missing class: %v", err)
	}
}

func TestCreateNFT_ResolvesForRestrictions(t *testing.T) {
	r, l := newRegistry(t)
	payer := ledger.Named("payer")
	auth := ledger.Named("authority")
	coll := ledger.Named("collection")
	bob := ledger.Named("bob")
	if err := r.CreateClass(coll, auth, payer); err != nil {
		t.Fatalf("collection: %v", err)
	}
	asset := ledger.Named("nft-1")
	acct, err := r.CreateNFT(asset, coll, true, auth, bob, payer)
	if err != nil {
		t.Fatalf("nft: %v", err)
	}

	rule := restriction.NftOwnership{Collection: coll}
	ev := restriction.Evidence{
		Proofs:   []restriction.Proof{restriction.NftProof{TokenIdx: 0, MetaIdx: 1, CollectionIdx: 2}},
		Accounts: []ledger.Key{acct, r.MetadataAddress(asset), coll},
	}
	if err := restriction.Validate(rule, restriction.Subject{Actor: bob}, ev, r); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// Clearing the collection is a size change on the metadata record.
	if err := r.SetMetadata(asset, auth, nil, payer); err != nil {
		t.Fatalf("clear metadata: %v", err)
	}
	err = restriction.Validate(rule, restriction.Subject{Actor: bob}, ev, r)
	if protocol.CodeOf(err) != protocol.ErrNoCollectionOnMetadata {
		t.Fatalf("cleared collection: %v", err)
	}

	if r.IsRegistryRecord(ledger.Named("elsewhere")) {
		t.Fatalf("missing record reported as registry record")
	}
	if err := l.Create(ledger.Named("foreign"), ledger.Named("other-program"), payer, 8); err != nil {
		t.Fatalf("foreign: %v", err)
	}
	if r.IsRegistryRecord(ledger.Named("foreign")) {
		t.Fatalf("foreign record reported as registry record")
	}
	if _, err := r.ResolveBalance(ledger.Named("foreign")); protocol.CodeOf(err) != protocol.ErrNotRecordOwner {
		t.Fatalf("foreign balance: %v", err)
	}
	if _, err := r.ResolveBalance(r.MetadataAddress(asset)); err == nil {
		t.Fatalf("metadata decoded as balance")
	}
}

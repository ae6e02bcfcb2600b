// Package assets is a small in-ledger asset registry: credential and token
// classes, per-owner balances and collection metadata. It backs restriction
// proofs and moderator credentials.
package assets

import (
	"fmt"
	"math"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

var (
	classDiscriminator    = codec.Discriminator("asset:Class")
	balanceDiscriminator  = codec.Discriminator("asset:Balance")
	metadataDiscriminator = codec.Discriminator("asset:Metadata")
)

const (
	classSize   = codec.DiscriminatorSize + codec.KeySize + 8
	balanceSize = codec.DiscriminatorSize + codec.KeySize + codec.KeySize + 8
)

func DefaultID() ledger.Key { return ledger.Named("asset-registry") }

// Class is a mintable asset. Authority signs mints and metadata updates.
type Class struct {
	Authority ledger.Key
	Supply    uint64
}

// Registry reads and writes asset records through a ledger. All records
// are owned by the registry id.
type Registry struct {
	id ledger.Key
	l  *ledger.Ledger
}

func New(id ledger.Key, l *ledger.Ledger) *Registry {
	return &Registry{id: id, l: l}
}

func (r *Registry) ID() ledger.Key { return r.id }

func BalanceAddress(registry, owner, asset ledger.Key) ledger.Key {
	return ledger.Derive(registry, []byte("balance"), owner[:], asset[:])
}

func (r *Registry) BalanceAddress(owner, asset ledger.Key) ledger.Key {
	return BalanceAddress(r.id, owner, asset)
}

func (r *Registry) MetadataAddress(asset ledger.Key) ledger.Key {
	return ledger.Derive(r.id, []byte("metadata"), asset[:])
}

func (r *Registry) IsRegistryRecord(acct ledger.Key) bool {
	rec, ok, err := r.l.Load(acct)
	return err == nil && ok && rec.Owner == r.id
}

// CreateClass registers a new asset class at class.
func (r *Registry) CreateClass(class, authority, payer ledger.Key) error {
	if err := r.l.Create(class, r.id, payer, classSize); err != nil {
		return err
	}
	return r.l.Write(class, r.id, encodeClass(Class{Authority: authority}))
}

func (r *Registry) Class(class ledger.Key) (Class, error) {
	data, err := r.load(class)
	if err != nil {
		return Class{}, err
	}
	return decodeClass(data)
}

// MintTo adds amount of class to the balance record of to, creating the
// record when needed, and returns the balance address.
func (r *Registry) MintTo(class, authority, to ledger.Key, amount uint64, payer ledger.Key) (ledger.Key, error) {
	c, err := r.Class(class)
	if err != nil {
		return ledger.Key{}, err
	}
	if c.Authority != authority {
		return ledger.Key{}, protocol.Errorf(protocol.ErrAssetAuthority, "class %s", class.Short())
	}
	if math.MaxUint64-c.Supply < amount {
		return ledger.Key{}, protocol.Errorf(protocol.ErrBadRequest, "supply overflow")
	}
	c.Supply += amount
	if err := r.l.Write(class, r.id, encodeClass(c)); err != nil {
		return ledger.Key{}, err
	}

	addr := r.BalanceAddress(to, class)
	bal := restriction.Balance{Owner: to, Asset: class}
	if _, ok, err := r.l.Load(addr); err != nil {
		return ledger.Key{}, err
	} else if ok {
		if bal, err = r.ResolveBalance(addr); err != nil {
			return ledger.Key{}, err
		}
	} else if err := r.l.Create(addr, r.id, payer, balanceSize); err != nil {
		return ledger.Key{}, err
	}
	bal.Amount += amount
	return addr, r.l.Write(addr, r.id, encodeBalance(bal))
}

// SetMetadata attaches collection info to asset. A nil collection clears it.
func (r *Registry) SetMetadata(asset, authority ledger.Key, coll *restriction.Collection, payer ledger.Key) error {
	c, err := r.Class(asset)
	if err != nil {
		return err
	}
	if c.Authority != authority {
		return protocol.Errorf(protocol.ErrAssetAuthority, "class %s", asset.Short())
	}
	addr := r.MetadataAddress(asset)
	data := encodeMetadata(restriction.Metadata{Asset: asset, Collection: coll})
	if _, ok, err := r.l.Load(addr); err != nil {
		return err
	} else if ok {
		if err := r.l.Resize(addr, r.id, len(data), payer); err != nil {
			return err
		}
	} else if err := r.l.Create(addr, r.id, payer, len(data)); err != nil {
		return err
	}
	return r.l.Write(addr, r.id, data)
}

// CreateNFT issues a one-of-one asset to owner and files it under
// collection. The collection class must exist and share the authority.
func (r *Registry) CreateNFT(asset, collection ledger.Key, verified bool, authority, owner, payer ledger.Key) (ledger.Key, error) {
	if err := r.CreateClass(asset, authority, payer); err != nil {
		return ledger.Key{}, err
	}
	bal, err := r.MintTo(asset, authority, owner, 1, payer)
	if err != nil {
		return ledger.Key{}, err
	}
	coll := &restriction.Collection{Key: collection, Verified: verified}
	if err := r.SetMetadata(asset, authority, coll, payer); err != nil {
		return ledger.Key{}, err
	}
	return bal, nil
}

func (r *Registry) ResolveBalance(acct ledger.Key) (restriction.Balance, error) {
	data, err := r.load(acct)
	if err != nil {
		return restriction.Balance{}, err
	}
	return decodeBalance(data)
}

func (r *Registry) ResolveMetadata(acct ledger.Key) (restriction.Metadata, error) {
	data, err := r.load(acct)
	if err != nil {
		return restriction.Metadata{}, err
	}
	return decodeMetadata(data)
}

func (r *Registry) load(acct ledger.Key) ([]byte, error) {
	rec, ok, err := r.l.Load(acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, protocol.Errorf(protocol.ErrRecordNotFound, "asset record %s", acct.Short())
	}
	if rec.Owner != r.id {
		return nil, protocol.Errorf(protocol.ErrNotRecordOwner, "%s is not an asset record", acct.Short())
	}
	return rec.Data, nil
}

func encodeClass(c Class) []byte {
	w := codec.NewWriter(classSize)
	w.Fixed(classDiscriminator[:])
	w.Key(c.Authority)
	w.U64(c.Supply)
	return w.Data()
}

func decodeClass(data []byte) (Class, error) {
	rd := codec.NewReader(data)
	rd.Expect(classDiscriminator)
	c := Class{Authority: rd.Key(), Supply: rd.U64()}
	if err := rd.Finish(); err != nil {
		return Class{}, fmt.Errorf("asset class: %w", err)
	}
	return c, nil
}

func encodeBalance(b restriction.Balance) []byte {
	w := codec.NewWriter(balanceSize)
	w.Fixed(balanceDiscriminator[:])
	w.Key(b.Owner)
	w.Key(b.Asset)
	w.U64(b.Amount)
	return w.Data()
}

func decodeBalance(data []byte) (restriction.Balance, error) {
	rd := codec.NewReader(data)
	rd.Expect(balanceDiscriminator)
	b := restriction.Balance{Owner: rd.Key(), Asset: rd.Key(), Amount: rd.U64()}
	if err := rd.Finish(); err != nil {
		return restriction.Balance{}, fmt.Errorf("asset balance: %w", err)
	}
	return b, nil
}

func encodeMetadata(m restriction.Metadata) []byte {
	w := codec.NewWriter(0)
	w.Fixed(metadataDiscriminator[:])
	w.Key(m.Asset)
	if m.Collection != nil {
		w.U8(1)
		w.Key(m.Collection.Key)
		w.Bool(m.Collection.Verified)
	} else {
		w.U8(0)
	}
	return w.Data()
}

func decodeMetadata(data []byte) (restriction.Metadata, error) {
	rd := codec.NewReader(data)
	rd.Expect(metadataDiscriminator)
	m := restriction.Metadata{Asset: rd.Key()}
	if rd.Bool() {
		m.Collection = &restriction.Collection{Key: rd.Key(), Verified: rd.Bool()}
	}
	if err := rd.Finish(); err != nil {
		return restriction.Metadata{}, fmt.Errorf("asset metadata: %w", err)
	}
	return m, nil
}

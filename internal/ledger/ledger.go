package ledger

import (
	"math"

	"postbox.dev/internal/protocol"
)

// Rent quotes the minimum funding a record of n bytes must hold.
type Rent struct {
	Overhead       uint64 `yaml:"overhead" json:"overhead"`
	PerByteYear    uint64 `yaml:"per_byte_year" json:"per_byte_year"`
	ExemptionYears uint64 `yaml:"exemption_years" json:"exemption_years"`
}

func DefaultRent() Rent {
	return Rent{Overhead: 128, PerByteYear: 3480, ExemptionYears: 2}
}

func (r Rent) Minimum(n int) uint64 {
	if n < 0 {
		n = 0
	}
	return (uint64(n) + r.Overhead) * r.PerByteYear * r.ExemptionYears
}

// Ledger applies value and record operations to a store.
type Ledger struct {
	store Store
	rent  Rent
}

func New(store Store, rent Rent) *Ledger {
	return &Ledger{store: store, rent: rent}
}

func (l *Ledger) Store() Store { return l.store }
func (l *Ledger) Rent() Rent   { return l.rent }

func (l *Ledger) Balance(k Key) (uint64, error) { return l.store.Balance(k) }

// Credit adds value out of thin air. Only dev airdrops and tests use it.
func (l *Ledger) Credit(to Key, amount uint64) error {
	cur, err := l.store.Balance(to)
	if err != nil {
		return err
	}
	if math.MaxUint64-cur < amount {
		return protocol.Errorf(protocol.ErrBadRequest, "balance overflow")
	}
	return l.store.SetBalance(to, cur+amount)
}

func (l *Ledger) debit(from Key, amount uint64) error {
	cur, err := l.store.Balance(from)
	if err != nil {
		return err
	}
	if cur < amount {
		return protocol.Errorf(protocol.ErrInsufficientFunds, "%s has %d, needs %d", from.Short(), cur, amount)
	}
	return l.store.SetBalance(from, cur-amount)
}

// Transfer moves value between plain balances.
func (l *Ledger) Transfer(from, to Key, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	return l.Credit(to, amount)
}

// Load returns the record at addr.
func (l *Ledger) Load(addr Key) (Record, bool, error) { return l.store.Record(addr) }

// Create allocates a zeroed record of size bytes owned by owner. The payer
// funds it at the rent minimum and receives the funding back on Close.
func (l *Ledger) Create(addr, owner, payer Key, size int) error {
	if _, ok, err := l.store.Record(addr); err != nil {
		return err
	} else if ok {
		return protocol.Errorf(protocol.ErrRecordExists, "record %s", addr.Short())
	}
	need := l.rent.Minimum(size)
	if err := l.debit(payer, need); err != nil {
		return err
	}
	return l.store.PutRecord(addr, Record{
		Owner:   owner,
		Payer:   payer,
		Funding: need,
		Data:    make([]byte, size),
	})
}

func (l *Ledger) owned(addr, owner Key) (Record, error) {
	r, ok, err := l.store.Record(addr)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, protocol.Errorf(protocol.ErrRecordNotFound, "record %s", addr.Short())
	}
	if r.Owner != owner {
		return Record{}, protocol.Errorf(protocol.ErrNotRecordOwner, "record %s", addr.Short())
	}
	return r, nil
}

// Write replaces the record data. The length must match the allocation;
// use Resize first when the shape changes.
func (l *Ledger) Write(addr, owner Key, data []byte) error {
	r, err := l.owned(addr, owner)
	if err != nil {
		return err
	}
	if len(data) != len(r.Data) {
		return protocol.Errorf(protocol.ErrInternal, "record %s: write of %d bytes into %d", addr.Short(), len(data), len(r.Data))
	}
	r.Data = data
	return l.store.PutRecord(addr, r)
}

// Resize changes the record length in place. When the current funding is
// below the rent minimum for newSize the shortfall is moved from funder.
// Shrinking keeps the existing funding; excess is not reclaimed.
func (l *Ledger) Resize(addr, owner Key, newSize int, funder Key) error {
	r, err := l.owned(addr, owner)
	if err != nil {
		return err
	}
	need := l.rent.Minimum(newSize)
	if r.Funding < need {
		short := need - r.Funding
		if err := l.debit(funder, short); err != nil {
			return err
		}
		r.Funding += short
	}
	switch {
	case newSize > len(r.Data):
		r.Data = append(r.Data, make([]byte, newSize-len(r.Data))...)
	case newSize < len(r.Data):
		r.Data = r.Data[:newSize]
	}
	return l.store.PutRecord(addr, r)
}

// Close deletes the record and returns its funding to the original payer.
func (l *Ledger) Close(addr, owner Key) (refund uint64, payer Key, err error) {
	r, err := l.owned(addr, owner)
	if err != nil {
		return 0, Key{}, err
	}
	if err := l.store.DeleteRecord(addr); err != nil {
		return 0, Key{}, err
	}
	if err := l.Credit(r.Payer, r.Funding); err != nil {
		return 0, Key{}, err
	}
	return r.Funding, r.Payer, nil
}

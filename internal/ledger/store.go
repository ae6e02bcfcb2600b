package ledger

import (
	"sort"
	"sync"
)

// Record is a ledger-resident byte buffer owned by a program. Funding is
// the value locked in the record to pay for its storage; it is returned to
// Payer when the record is closed.
type Record struct {
	Owner   Key
	Payer   Key
	Funding uint64
	Data    []byte
}

func (r Record) clone() Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

// Store is the backing storage for records and plain balances.
type Store interface {
	Record(addr Key) (Record, bool, error)
	PutRecord(addr Key, r Record) error
	DeleteRecord(addr Key) error
	Balance(k Key) (uint64, error)
	SetBalance(k Key, v uint64) error
}

// Changeset is the set of writes produced by one instruction.
type Changeset struct {
	Records  map[Key]Record
	Deleted  []Key
	Balances map[Key]uint64
}

func (c Changeset) Empty() bool {
	return len(c.Records) == 0 && len(c.Deleted) == 0 && len(c.Balances) == 0
}

// ChangesetApplier is implemented by stores that can apply a changeset
// atomically.
type ChangesetApplier interface {
	ApplyChangeset(c Changeset) error
}

// Dump is a full copy of a store, used for snapshots.
type Dump struct {
	Records  map[Key]Record
	Balances map[Key]uint64
}

type Dumper interface {
	Dump() (Dump, error)
}

// SortedKeys returns map keys in byte order.
func SortedKeys[V any](m map[Key]V) []Key {
	out := make([]Key, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// MemStore keeps everything in memory. Safe for concurrent readers.
type MemStore struct {
	mu       sync.RWMutex
	records  map[Key]Record
	balances map[Key]uint64
}

func NewMemStore() *MemStore {
	return &MemStore{
		records:  map[Key]Record{},
		balances: map[Key]uint64{},
	}
}

func (m *MemStore) Record(addr Key) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[addr]
	if !ok {
		return Record{}, false, nil
	}
	return r.clone(), true, nil
}

func (m *MemStore) PutRecord(addr Key, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[addr] = r.clone()
	return nil
}

func (m *MemStore) DeleteRecord(addr Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, addr)
	return nil
}

func (m *MemStore) Balance(k Key) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[k], nil
}

func (m *MemStore) SetBalance(k Key, v uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v == 0 {
		delete(m.balances, k)
		return nil
	}
	m.balances[k] = v
	return nil
}

func (m *MemStore) ApplyChangeset(c Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range c.Deleted {
		delete(m.records, k)
	}
	for k, r := range c.Records {
		m.records[k] = r.clone()
	}
	for k, v := range c.Balances {
		if v == 0 {
			delete(m.balances, k)
			continue
		}
		m.balances[k] = v
	}
	return nil
}

func (m *MemStore) Dump() (Dump, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := Dump{
		Records:  make(map[Key]Record, len(m.records)),
		Balances: make(map[Key]uint64, len(m.balances)),
	}
	for k, r := range m.records {
		d.Records[k] = r.clone()
	}
	for k, v := range m.balances {
		d.Balances[k] = v
	}
	return d, nil
}

// Load replaces the store contents with a dump.
func (m *MemStore) Load(d Dump) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[Key]Record, len(d.Records))
	m.balances = make(map[Key]uint64, len(d.Balances))
	for k, r := range d.Records {
		m.records[k] = r.clone()
	}
	for k, v := range d.Balances {
		if v != 0 {
			m.balances[k] = v
		}
	}
}

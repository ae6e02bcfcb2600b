package ledger

// Txn buffers writes on top of a base store. Nothing reaches the base until
// Commit; Discard drops every buffered write.
type Txn struct {
	base     Store
	records  map[Key]*Record // nil value marks a deletion
	balances map[Key]uint64
	done     bool
}

func NewTxn(base Store) *Txn {
	return &Txn{
		base:     base,
		records:  map[Key]*Record{},
		balances: map[Key]uint64{},
	}
}

func (t *Txn) Record(addr Key) (Record, bool, error) {
	if r, ok := t.records[addr]; ok {
		if r == nil {
			return Record{}, false, nil
		}
		return r.clone(), true, nil
	}
	return t.base.Record(addr)
}

func (t *Txn) PutRecord(addr Key, r Record) error {
	c := r.clone()
	t.records[addr] = &c
	return nil
}

func (t *Txn) DeleteRecord(addr Key) error {
	t.records[addr] = nil
	return nil
}

func (t *Txn) Balance(k Key) (uint64, error) {
	if v, ok := t.balances[k]; ok {
		return v, nil
	}
	return t.base.Balance(k)
}

func (t *Txn) SetBalance(k Key, v uint64) error {
	t.balances[k] = v
	return nil
}

// Changeset returns the buffered writes.
func (t *Txn) Changeset() Changeset {
	c := Changeset{
		Records:  map[Key]Record{},
		Balances: make(map[Key]uint64, len(t.balances)),
	}
	for _, k := range SortedKeys(t.records) {
		r := t.records[k]
		if r == nil {
			c.Deleted = append(c.Deleted, k)
			continue
		}
		c.Records[k] = r.clone()
	}
	for k, v := range t.balances {
		c.Balances[k] = v
	}
	return c
}

func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	c := t.Changeset()
	if c.Empty() {
		return nil
	}
	if ap, ok := t.base.(ChangesetApplier); ok {
		return ap.ApplyChangeset(c)
	}
	for _, k := range c.Deleted {
		if err := t.base.DeleteRecord(k); err != nil {
			return err
		}
	}
	for _, k := range SortedKeys(c.Records) {
		if err := t.base.PutRecord(k, c.Records[k]); err != nil {
			return err
		}
	}
	for _, k := range SortedKeys(c.Balances) {
		if err := t.base.SetBalance(k, c.Balances[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) Discard() {
	t.done = true
	t.records = map[Key]*Record{}
	t.balances = map[Key]uint64{}
}

package runtime

import (
	"crypto/sha256"
	"encoding/hex"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/ledger"
)

// changesetDigest hashes the writes of one instruction in key order.
func changesetDigest(c ledger.Changeset) string {
	w := codec.NewWriter(0)
	for _, k := range ledger.SortedKeys(c.Records) {
		r := c.Records[k]
		w.U8('R')
		w.Key(k)
		w.Key(r.Owner)
		w.Key(r.Payer)
		w.U64(r.Funding)
		w.Bytes(r.Data)
	}
	for _, k := range c.Deleted {
		w.U8('D')
		w.Key(k)
	}
	for _, k := range ledger.SortedKeys(c.Balances) {
		w.U8('B')
		w.Key(k)
		w.U64(c.Balances[k])
	}
	sum := sha256.Sum256(w.Data())
	return hex.EncodeToString(sum[:])
}

func auditEntries(seq uint64, in Instruction, c ledger.Changeset) []AuditEntry {
	out := make([]AuditEntry, 0, len(c.Records)+len(c.Deleted)+len(c.Balances))
	for _, k := range ledger.SortedKeys(c.Records) {
		r := c.Records[k]
		out = append(out, AuditEntry{Seq: seq, Signer: in.Signer, Op: in.Op, Action: AuditRecordPut, Key: k, Size: len(r.Data), Funding: r.Funding})
	}
	for _, k := range c.Deleted {
		out = append(out, AuditEntry{Seq: seq, Signer: in.Signer, Op: in.Op, Action: AuditRecordDelete, Key: k})
	}
	for _, k := range ledger.SortedKeys(c.Balances) {
		out = append(out, AuditEntry{Seq: seq, Signer: in.Signer, Op: in.Op, Action: AuditBalanceSet, Key: k, Amount: c.Balances[k]})
	}
	return out
}

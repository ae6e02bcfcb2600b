package runtime

import (
	"encoding/json"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// Instruction is one signed request to the program.
type Instruction struct {
	ReqID  string          `json:"req_id"`
	Signer ledger.Key      `json:"signer"`
	Op     string          `json:"op"`
	Args   json.RawMessage `json:"args"`
}

type Result struct {
	ReqID   string                    `json:"req_id"`
	Seq     uint64                    `json:"seq"`
	OK      bool                      `json:"ok"`
	Code    string                    `json:"code,omitempty"`
	Message string                    `json:"message,omitempty"`
	Events  []protocol.EventBatchItem `json:"events,omitempty"`
}

// Msg renders r as a RESULT message.
func (r Result) Msg() protocol.ResultMsg {
	m := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           r.ReqID,
		OK:              r.OK,
		Code:            r.Code,
		Message:         r.Message,
		Seq:             r.Seq,
	}
	if r.Code != "" {
		m.NumericCode = protocol.NumericCode(r.Code)
	}
	for _, it := range r.Events {
		m.Events = append(m.Events, it.Event)
	}
	return m
}

// JournalEntry records one applied instruction. Replaying the journal on
// top of the snapshot taken at an earlier seq reproduces the ledger.
type JournalEntry struct {
	Seq    uint64                    `json:"seq"`
	Time   string                    `json:"time"`
	ReqID  string                    `json:"req_id,omitempty"`
	Signer ledger.Key                `json:"signer"`
	Op     string                    `json:"op"`
	Args   json.RawMessage           `json:"args,omitempty"`
	OK     bool                      `json:"ok"`
	Code   string                    `json:"code,omitempty"`
	Events []protocol.EventBatchItem `json:"events,omitempty"`
	Digest string                    `json:"digest"`
}

// AuditEntry describes one ledger write made by a committed instruction.
type AuditEntry struct {
	Seq     uint64     `json:"seq"`
	Signer  ledger.Key `json:"signer"`
	Op      string     `json:"op"`
	Action  string     `json:"action"` // RECORD_PUT, RECORD_DELETE, BALANCE_SET
	Key     ledger.Key `json:"key"`
	Size    int        `json:"size,omitempty"`
	Funding uint64     `json:"funding,omitempty"`
	Amount  uint64     `json:"amount,omitempty"`
}

const (
	AuditRecordPut    = "RECORD_PUT"
	AuditRecordDelete = "RECORD_DELETE"
	AuditBalanceSet   = "BALANCE_SET"
)

type JournalLogger interface {
	WriteJournal(JournalEntry) error
}

type AuditLogger interface {
	WriteAudit(AuditEntry) error
}

// EventSink receives committed events in cursor order.
type EventSink interface {
	WriteEvents(seq uint64, items []protocol.EventBatchItem)
}

// PositionStore is implemented by durable stores that remember the last
// applied seq and event cursor alongside the data.
type PositionStore interface {
	Position() (seq, cursor uint64, err error)
	SetPosition(seq, cursor uint64) error
}

// PositionedApplier commits a changeset and the position it leads to
// atomically.
type PositionedApplier interface {
	ApplyChangesetAt(c ledger.Changeset, seq, cursor uint64) error
}

// Status is a read-only view of loop counters, safe to read from any goroutine.
type Status struct {
	Seq         uint64 `json:"seq"`
	Cursor      uint64 `json:"cursor"`
	Subscribers int    `json:"subscribers"`
	InboxDepth  int    `json:"inbox_depth"`
	Retained    int    `json:"retained_events"`
}

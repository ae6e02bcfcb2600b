package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"postbox.dev/internal/protocol"
)

const keyA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const keyB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestSchemas_ValidateSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	validate := func(raw string) {
		t.Helper()
		if err := v.Validate([]byte(raw)); err != nil {
			t.Fatalf("validate: %v\n%s", err, raw)
		}
	}

	validate(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"bot1",
	  "signer":"alice",
	  "subscribe":true
	}`)

	validate(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"S1",
	  "signer":"` + keyA + `",
	  "program":{
	    "program_id":"` + keyB + `",
	    "treasury":"` + keyA + `",
	    "growth":1,
	    "fees":{"new_postbox":100000,"new_personal_postbox":100000,"post":50000,"vote":50000}
	  },
	  "cursor":0
	}`)

	validate(`{
	  "type":"INSTRUCTION",
	  "protocol_version":"1.0",
	  "req_id":"R1",
	  "op":"CREATE_POST",
	  "args":{"board":"` + keyA + `","post_id":0,"data":"hi","restriction":{"null":{}}}
	}`)

	validate(`{
	  "type":"RESULT",
	  "protocol_version":"1.0",
	  "req_id":"R1",
	  "ok":true,
	  "seq":3,
	  "events":[{"type":"PostCreated","board":"` + keyA + `","actor":"` + keyB + `","post":"` + keyB + `","post_id":0,"data":"hi"}]
	}`)

	validate(`{
	  "type":"EVENT_BATCH",
	  "protocol_version":"1.0",
	  "req_id":"B1",
	  "next_cursor":2,
	  "events":[{"cursor":2,"event":{"type":"PostDeleted","board":"` + keyA + `","post_id":7}}]
	}`)
}

func TestSchemas_RejectsBadMessages(t *testing.T) {
	v := protocol.MustValidator()
	bad := []string{
		`{"type":"INSTRUCTION","protocol_version":"1.0","req_id":"R1","op":"MINT","args":{}}`,
		`{"type":"RESULT","protocol_version":"1.0","req_id":"R1","ok":false}`,
		`{"type":"EVENT","protocol_version":"1.0","cursor":1,"event":{"type":"PostCreated","board":"XYZ"}}`,
		`{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","req_id":"Q","since_cursor":0,"limit":0}`,
		`{"type":"NOPE"}`,
	}
	for _, raw := range bad {
		if err := v.Validate([]byte(raw)); err == nil {
			t.Fatalf("expected rejection: %s", raw)
		}
	}
}

func TestValidateMessage_GoTypes(t *testing.T) {
	v := protocol.MustValidator()
	id := uint32(4)
	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           "R9",
		OK:              false,
		Code:            protocol.ErrPostIDTooLarge,
		NumericCode:     protocol.NumericCode(protocol.ErrPostIDTooLarge),
		Message:         "post id 4 is past 1",
	}
	if err := v.ValidateMessage(res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := v.ValidateEvent(protocol.Event{Type: protocol.EventPostVoted, Board: keyA, PostID: &id, UpVotes: 65535}); err != nil {
		t.Fatalf("event: %v", err)
	}

	args, _ := json.Marshal(map[string]any{"board": keyA, "post_id": 1, "up": true})
	in := protocol.InstructionMsg{Type: protocol.TypeInstruction, ProtocolVersion: protocol.Version, ReqID: "R1", Op: protocol.OpVote, Args: args}
	if err := v.ValidateMessage(in); err != nil {
		t.Fatalf("instruction: %v", err)
	}
	for _, op := range protocol.Ops() {
		if !protocol.IsKnownOp(op) || strings.ToUpper(op) != op {
			t.Fatalf("op %q", op)
		}
	}
}

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

var alice = ledger.Named("alice")

func startServer(t *testing.T) (*runtime.Runtime, string) {
	t.Helper()
	rt, err := runtime.New(runtime.DefaultConfig(), ledger.NewMemStore(), nil)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = rt.Run(ctx) }()
	t.Cleanup(cancel)

	args, _ := json.Marshal(runtime.AirdropArgs{To: alice, Amount: 1e12})
	if res, err := rt.Submit(ctx, runtime.Instruction{ReqID: "drop", Signer: alice, Op: runtime.OpAirdrop, Args: args}); err != nil || !res.OK {
		t.Fatalf("airdrop: %+v %v", res, err)
	}

	srv := httptest.NewServer(NewServer(rt, protocol.MustValidator(), nil).Handler())
	t.Cleanup(srv.Close)
	return rt, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) (protocol.BaseMessage, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return base, b
}

func hello(t *testing.T, conn *websocket.Conn, subscribe bool) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Signer:          "alice",
		Subscribe:       subscribe,
	}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	base, b := readMsg(t, conn)
	if base.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", base.Type)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if err := protocol.MustValidator().Validate(b); err != nil {
		t.Fatalf("welcome schema: %v", err)
	}
	return w
}

func instruction(t *testing.T, reqID, op string, args any) protocol.InstructionMsg {
	b, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return protocol.InstructionMsg{Type: protocol.TypeInstruction, ProtocolVersion: protocol.Version, ReqID: reqID, Op: op, Args: b}
}

func TestSession_InstructionResultAndEventStream(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	w := hello(t, conn, true)
	if w.Signer != alice.String() || w.Cursor != 0 {
		t.Fatalf("welcome=%+v", w)
	}

	in := instruction(t, "r1", protocol.OpInitialize, postbox.InitializeArgs{Target: alice, Subject: "general", Owners: []ledger.Key{alice}})
	if err := conn.WriteJSON(in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var gotResult, gotEvent bool
	for !(gotResult && gotEvent) {
		base, b := readMsg(t, conn)
		switch base.Type {
		case protocol.TypeResult:
			var res protocol.ResultMsg
			_ = json.Unmarshal(b, &res)
			if !res.OK || res.ReqID != "r1" || len(res.Events) != 1 {
				t.Fatalf("result=%+v", res)
			}
			gotResult = true
		case protocol.TypeEvent:
			var ev protocol.EventMsg
			_ = json.Unmarshal(b, &ev)
			if ev.Cursor != 1 || ev.Event.Type != protocol.EventBoardInitialized {
				t.Fatalf("event=%+v", ev)
			}
			gotEvent = true
		default:
			t.Fatalf("unexpected %s", base.Type)
		}
	}

	if err := conn.WriteJSON(protocol.EventBatchReqMsg{
		Type: protocol.TypeEventBatchReq, ProtocolVersion: protocol.Version, ReqID: "b1", Limit: 10,
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	base, b := readMsg(t, conn)
	if base.Type != protocol.TypeEventBatch {
		t.Fatalf("expected EVENT_BATCH, got %s", base.Type)
	}
	var batch protocol.EventBatchMsg
	_ = json.Unmarshal(b, &batch)
	if len(batch.Events) != 1 || batch.NextCursor != 1 || batch.ReqID != "b1" {
		t.Fatalf("batch=%+v", batch)
	}

	if err := conn.WriteJSON(protocol.EventBatchReqMsg{
		Type: protocol.TypeEventBatchReq, ProtocolVersion: protocol.Version, ReqID: "b2", Limit: 10,
		Board: ledger.Named("elsewhere").String(),
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, b = readMsg(t, conn)
	batch = protocol.EventBatchMsg{}
	_ = json.Unmarshal(b, &batch)
	if len(batch.Events) != 0 || batch.NextCursor != 1 {
		t.Fatalf("filtered batch=%+v", batch)
	}
}

func TestSession_RejectsAdminOpsAndForeignSigner(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, false)

	cases := []protocol.InstructionMsg{
		instruction(t, "admin", runtime.OpAirdrop, runtime.AirdropArgs{To: alice, Amount: 1}),
		func() protocol.InstructionMsg {
			in := instruction(t, "foreign", protocol.OpInitialize, postbox.InitializeArgs{Target: alice, Owners: []ledger.Key{alice}})
			in.Signer = "bob"
			return in
		}(),
	}
	for _, in := range cases {
		if err := conn.WriteJSON(in); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, b := readMsg(t, conn)
		var res protocol.ResultMsg
		_ = json.Unmarshal(b, &res)
		if res.OK || res.Code != protocol.ErrProtoBadRequest || res.ReqID != in.ReqID {
			t.Fatalf("%s: result=%+v", in.ReqID, res)
		}
	}
}

func TestSession_DomainErrorCarriesNumericCode(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, false)

	// A personal board can only be created by its target.
	in := instruction(t, "p", protocol.OpInitialize, postbox.InitializeArgs{Target: ledger.Named("bob"), Owners: []ledger.Key{alice}})
	if err := conn.WriteJSON(in); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, b := readMsg(t, conn)
	var res protocol.ResultMsg
	_ = json.Unmarshal(b, &res)
	if res.Code != protocol.ErrNotPersonalPostbox || res.NumericCode != 6000 {
		t.Fatalf("result=%+v", res)
	}
}

func TestHandshake_RequiresHello(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	if err := conn.WriteJSON(instruction(t, "x", protocol.OpVote, map[string]any{})); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

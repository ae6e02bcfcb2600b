package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

type bot struct {
	conn    *websocket.Conn
	logger  *log.Logger
	signer  ledger.Key
	program ledger.Key
	board   ledger.Key

	reqN   int
	nextID uint32
	// posts seen on the board, candidates for votes.
	posts []uint32
	voted map[uint32]bool
}

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "signer name (or hex key)")
		subject  = flag.String("subject", "bots", "board subject to post on (empty = personal board)")
		every    = flag.Duration("every", 5*time.Second, "interval between actions")
		adminURL = flag.String("admin_url", "", "server base url for a startup airdrop (optional, loopback admin)")
		fund     = flag.Uint64("fund", 10_000_000_000, "airdrop amount when -admin_url is set")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	signer := ledger.ParseOrNamed(*name)

	if *adminURL != "" {
		if err := airdrop(*adminURL, signer, *fund); err != nil {
			logger.Fatalf("airdrop: %v", err)
		}
		logger.Printf("funded %s with %d", signer.Short(), *fund)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "postbox-bot",
		Signer:          signer.String(),
		Subscribe:       true,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	b := &bot{conn: conn, logger: logger, signer: signer, voted: map[uint32]bool{}}

	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*every)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.handle(msg, *subject)
		case <-tick.C:
			if !b.board.IsZero() {
				b.act()
			}
		}
	}
}

func (b *bot) handle(msg []byte, subject string) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		program, err := ledger.ParseKey(w.Program.ProgramID)
		if err != nil {
			b.logger.Printf("bad program id %q: %v", w.Program.ProgramID, err)
			return
		}
		b.program = program
		b.board = postbox.BoardAddress(program, b.signer, subject)
		b.logger.Printf("WELCOME session=%s cursor=%d board=%s post_fee=%d", w.SessionID, w.Cursor, b.board.Short(), w.Program.Fees.Post)
		b.send(protocol.OpInitialize, postbox.InitializeArgs{Target: b.signer, Subject: subject, Owners: []ledger.Key{b.signer}})

	case protocol.TypeResult:
		var r protocol.ResultMsg
		if err := json.Unmarshal(msg, &r); err != nil {
			return
		}
		switch {
		case r.OK:
			b.logger.Printf("RESULT %s ok seq=%d events=%d", r.ReqID, r.Seq, len(r.Events))
		case r.Code == protocol.ErrAlreadyInitialized:
			b.logger.Printf("board %s already exists", b.board.Short())
		case r.Code == protocol.ErrPostExists:
			b.nextID++
		default:
			b.logger.Printf("RESULT %s failed %s: %s", r.ReqID, r.Code, r.Message)
		}

	case protocol.TypeEvent:
		var e protocol.EventMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		if e.Event.Board != b.board.String() || e.Event.PostID == nil {
			return
		}
		id := *e.Event.PostID
		switch e.Event.Type {
		case protocol.EventPostCreated:
			b.posts = append(b.posts, id)
			if id >= b.nextID {
				b.nextID = id + 1
			}
		case protocol.EventPostDeleted:
			for i, p := range b.posts {
				if p == id {
					b.posts = append(b.posts[:i], b.posts[i+1:]...)
					break
				}
			}
		}
	}
}

// act posts, or now and then votes on a post it has not voted on yet.
func (b *bot) act() {
	if len(b.posts) > 0 && rand.Intn(3) == 0 {
		id := b.posts[rand.Intn(len(b.posts))]
		if !b.voted[id] {
			b.voted[id] = true
			b.send(protocol.OpVote, postbox.VoteArgs{Board: b.board, PostID: id, Up: rand.Intn(4) != 0})
			return
		}
	}
	a := postbox.CreatePostArgs{
		Board:  b.board,
		PostID: b.nextID,
		Data:   fmt.Sprintf("%s says hi at %s", b.signer.Short(), time.Now().UTC().Format(time.RFC3339)),
	}
	if len(b.posts) > 0 && rand.Intn(2) == 0 {
		parent := postbox.PostAddress(b.program, b.board, b.posts[rand.Intn(len(b.posts))])
		a.ReplyTo = &parent
	}
	b.send(protocol.OpCreatePost, a)
}

func (b *bot) send(op string, args any) {
	raw, err := json.Marshal(args)
	if err != nil {
		b.logger.Printf("encode %s: %v", op, err)
		return
	}
	b.reqN++
	msg := protocol.InstructionMsg{
		Type:            protocol.TypeInstruction,
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("R_%s_%d", strings.ToLower(op), b.reqN),
		Signer:          b.signer.String(),
		Op:              op,
		Args:            raw,
	}
	if err := b.conn.WriteJSON(msg); err != nil {
		b.logger.Printf("send %s: %v", op, err)
	}
}

func airdrop(baseURL string, to ledger.Key, amount uint64) error {
	body, _ := json.Marshal(map[string]any{"args": runtime.AirdropArgs{To: to, Amount: amount}})
	u := strings.TrimRight(baseURL, "/") + "/admin/v1/airdrop"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

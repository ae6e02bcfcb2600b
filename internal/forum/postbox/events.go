package postbox

import (
	"encoding/json"

	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

func postCreated(board, poster, post ledger.Key, id uint32, p *Post) protocol.Event {
	e := protocol.Event{
		Type:   protocol.EventPostCreated,
		Board:  board.String(),
		Actor:  poster.String(),
		Post:   post.String(),
		PostID: &id,
		Data:   string(p.Data),
	}
	if p.ReplyTo != nil {
		e.ReplyTo = p.ReplyTo.String()
	}
	return e
}

func postDeleted(board, deleter, post ledger.Key, id uint32, refund uint64) protocol.Event {
	return protocol.Event{
		Type:   protocol.EventPostDeleted,
		Board:  board.String(),
		Actor:  deleter.String(),
		Post:   post.String(),
		PostID: &id,
		Refund: refund,
	}
}

func postVoted(board, voter, post ledger.Key, id uint32, up bool, p *Post) protocol.Event {
	return protocol.Event{
		Type:      protocol.EventPostVoted,
		Board:     board.String(),
		Actor:     voter.String(),
		Post:      post.String(),
		PostID:    &id,
		Up:        &up,
		UpVotes:   p.UpVotes,
		DownVotes: p.DownVotes,
	}
}

func postEdited(board, poster, post ledger.Key, id uint32, p *Post) protocol.Event {
	return protocol.Event{
		Type:   protocol.EventPostEdited,
		Board:  board.String(),
		Actor:  poster.String(),
		Post:   post.String(),
		PostID: &id,
		Data:   string(p.Data),
	}
}

func boardInitialized(board, signer ledger.Key, a InitializeArgs, b *Board) protocol.Event {
	e := protocol.Event{
		Type:    protocol.EventBoardInitialized,
		Board:   board.String(),
		Actor:   signer.String(),
		Target:  a.Target.String(),
		Subject: a.Subject,
		Owners:  keyStrings(b.Owners()),
		Mint:    b.ModeratorMint.String(),
	}
	if a.Description.Data != nil {
		e.Value = entryJSON(a.Description.Data)
	}
	return e
}

func settingUpdated(board, signer ledger.Key, d settings.Data) protocol.Event {
	return protocol.Event{
		Type:    protocol.EventSettingUpdated,
		Board:   board.String(),
		Actor:   signer.String(),
		Setting: d.Kind().String(),
		Value:   entryJSON(d),
	}
}

func moderatorDesignated(board, signer, target, mint ledger.Key) protocol.Event {
	return protocol.Event{
		Type:   protocol.EventModeratorDesignated,
		Board:  board.String(),
		Actor:  signer.String(),
		Target: target.String(),
		Mint:   mint.String(),
	}
}

func entryJSON(d settings.Data) json.RawMessage {
	b, err := json.Marshal(settings.Entry{Data: d})
	if err != nil {
		return nil
	}
	return b
}

func keyStrings(keys []ledger.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

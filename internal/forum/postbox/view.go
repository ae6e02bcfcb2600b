package postbox

import (
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
)

type BoardView struct {
	Address       ledger.Key       `json:"address"`
	MaxChildID    uint32           `json:"max_child_id"`
	ModeratorMint ledger.Key       `json:"moderator_mint"`
	Settings      []settings.Entry `json:"settings"`
	Size          int              `json:"size"`
	Funding       uint64           `json:"funding"`
}

type PostView struct {
	Address     ledger.Key       `json:"address"`
	Board       ledger.Key       `json:"board"`
	PostID      uint32           `json:"post_id"`
	Poster      ledger.Key       `json:"poster"`
	Data        string           `json:"data"`
	UpVotes     uint16           `json:"up_votes"`
	DownVotes   uint16           `json:"down_votes"`
	ReplyTo     *ledger.Key      `json:"reply_to,omitempty"`
	Restriction restriction.JSON `json:"restriction"`
	Size        int              `json:"size"`
	Funding     uint64           `json:"funding"`
}

// ReadBoard decodes the board at addr for read APIs.
func (p *Program) ReadBoard(l *ledger.Ledger, addr ledger.Key) (BoardView, error) {
	c := &Ctx{Ledger: l}
	b, err := p.loadBoard(c, addr)
	if err != nil {
		return BoardView{}, err
	}
	rec, _, err := l.Load(addr)
	if err != nil {
		return BoardView{}, err
	}
	return BoardView{
		Address:       addr,
		MaxChildID:    b.MaxChildID,
		ModeratorMint: b.ModeratorMint,
		Settings:      settings.Entries(b.Settings),
		Size:          len(rec.Data),
		Funding:       rec.Funding,
	}, nil
}

func (p *Program) ReadPost(l *ledger.Ledger, board ledger.Key, id uint32) (PostView, error) {
	c := &Ctx{Ledger: l}
	_, addr, post, err := p.postAt(c, board, id)
	if err != nil {
		return PostView{}, err
	}
	rec, _, err := l.Load(addr)
	if err != nil {
		return PostView{}, err
	}
	return PostView{
		Address:     addr,
		Board:       board,
		PostID:      id,
		Poster:      post.Poster,
		Data:        string(post.Data),
		UpVotes:     post.UpVotes,
		DownVotes:   post.DownVotes,
		ReplyTo:     post.ReplyTo,
		Restriction: restriction.JSON{Rule: post.Restriction},
		Size:        len(rec.Data),
		Funding:     rec.Funding,
	}, nil
}

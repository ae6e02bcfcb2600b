package postbox

import (
	"math"

	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// CreatePost adds a post or reply at a.PostID.
//
// Ids may run at most Growth ahead of the board counter; landing at or past
// the counter advances it by Growth. Replies inherit the parent's
// restriction and must satisfy it; top-level posts must satisfy the board
// default, which owners bypass. The parent must be a post on the same board.
func (p *Program) CreatePost(c *Ctx, a CreatePostArgs) error {
	if err := checkData(a.Data); err != nil {
		return err
	}
	b, err := p.loadBoard(c, a.Board)
	if err != nil {
		return err
	}
	if uint64(a.PostID) > uint64(b.MaxChildID)+uint64(p.cfg.Growth) {
		return protocol.Errorf(protocol.ErrPostIDTooLarge, "post id %d is more than %d past %d", a.PostID, p.cfg.Growth, b.MaxChildID)
	}
	if a.PostID >= b.MaxChildID {
		b.MaxChildID = advance(b.MaxChildID, p.cfg.Growth)
	}

	addr := PostAddress(p.cfg.ProgramID, a.Board, a.PostID)
	if _, ok, err := c.Ledger.Load(addr); err != nil {
		return err
	} else if ok {
		return protocol.Errorf(protocol.ErrPostExists, "post %d", a.PostID)
	}

	ev, err := evidence(a.Proofs, a.Accounts)
	if err != nil {
		return err
	}
	post := &Post{Board: a.Board, Poster: c.Signer, Data: []byte(a.Data)}

	if a.ReplyTo != nil {
		parent, err := p.loadPost(c, *a.ReplyTo, protocol.ErrReplyToNotPost)
		if err != nil {
			return err
		}
		if parent.Board != a.Board {
			return protocol.Errorf(protocol.ErrReplyToNotPost, "%s is a post on board %s", a.ReplyTo.Short(), parent.Board.Short())
		}
		if a.Restriction.Rule != nil {
			return protocol.NewError(protocol.ErrReplyCannotRestrictReplies)
		}
		post.ReplyTo = a.ReplyTo
		post.Restriction = parent.Restriction
		sub := restriction.Subject{Actor: c.Signer, Owners: b.Owners(), Bypass: p.cfg.Policy.BypassOnReply}
		if err := restriction.Validate(parent.Restriction, sub, ev, c.Assets); err != nil {
			return err
		}
	} else {
		sub := restriction.Subject{Actor: c.Signer, Owners: b.Owners(), Bypass: true}
		if err := restriction.Validate(b.Rule(), sub, ev, c.Assets); err != nil {
			return err
		}
		if a.Restriction.Rule != nil {
			if err := restriction.Check(a.Restriction.Rule); err != nil {
				return protocol.Errorf(protocol.ErrPostInvalidSettingsType, "%v", err)
			}
		}
		post.Restriction = a.Restriction.Rule
	}

	if err := c.Ledger.Create(addr, p.cfg.ProgramID, c.Signer, post.Size()); err != nil {
		return err
	}
	if err := c.Ledger.Write(addr, p.cfg.ProgramID, post.Encode()); err != nil {
		return err
	}
	if err := p.storeBoard(c, a.Board, b); err != nil {
		return err
	}
	c.Emit(postCreated(a.Board, c.Signer, addr, a.PostID, post))
	return p.charge(c, p.cfg.Fees.Post)
}

func checkData(data string) error {
	if len(data) > MaxPostData {
		return protocol.Errorf(protocol.ErrBadRequest, "post data is %d bytes, limit %d", len(data), MaxPostData)
	}
	return nil
}

func advance(counter, growth uint32) uint32 {
	if uint64(counter)+uint64(growth) > math.MaxUint32 {
		return math.MaxUint32
	}
	return counter + growth
}

// postAt loads the board and post id on it.
func (p *Program) postAt(c *Ctx, board ledger.Key, id uint32) (*Board, ledger.Key, *Post, error) {
	b, err := p.loadBoard(c, board)
	if err != nil {
		return nil, ledger.Key{}, nil, err
	}
	addr := PostAddress(p.cfg.ProgramID, board, id)
	post, err := p.loadPost(c, addr, protocol.ErrPostNotFound)
	if err != nil {
		return nil, ledger.Key{}, nil, err
	}
	return b, addr, post, nil
}

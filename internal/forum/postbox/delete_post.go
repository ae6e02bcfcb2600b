package postbox

import (
	"postbox.dev/internal/protocol"
)

// DeleteOwnPost closes the signer's post and refunds its funding to the payer.
func (p *Program) DeleteOwnPost(c *Ctx, a DeleteOwnPostArgs) error {
	_, addr, post, err := p.postAt(c, a.Board, a.PostID)
	if err != nil {
		return err
	}
	if post.Poster != c.Signer {
		return protocol.Errorf(protocol.ErrNotPoster, "post %d belongs to %s", a.PostID, post.Poster.Short())
	}
	refund, _, err := c.Ledger.Close(addr, p.cfg.ProgramID)
	if err != nil {
		return err
	}
	c.Emit(postDeleted(a.Board, c.Signer, addr, a.PostID, refund))
	return nil
}

// DeletePostByModerator closes any post on the board when the signer holds
// at least one moderator credential.
func (p *Program) DeletePostByModerator(c *Ctx, a DeletePostByModeratorArgs) error {
	b, addr, _, err := p.postAt(c, a.Board, a.PostID)
	if err != nil {
		return err
	}
	bal, err := c.Assets.ResolveBalance(a.ModeratorBalance)
	if err != nil {
		return protocol.Errorf(protocol.ErrNotModerator, "%v", err)
	}
	if bal.Owner != c.Signer || bal.Asset != b.ModeratorMint || bal.Amount < 1 {
		return protocol.NewError(protocol.ErrNotModerator)
	}
	refund, _, err := c.Ledger.Close(addr, p.cfg.ProgramID)
	if err != nil {
		return err
	}
	c.Emit(postDeleted(a.Board, c.Signer, addr, a.PostID, refund))
	return nil
}

package postbox

import "postbox.dev/internal/protocol"

// EditPost replaces the post payload. Votes, reply link and restriction are
// kept; the signer funds any growth.
func (p *Program) EditPost(c *Ctx, a EditPostArgs) error {
	if err := checkData(a.Data); err != nil {
		return err
	}
	_, addr, post, err := p.postAt(c, a.Board, a.PostID)
	if err != nil {
		return err
	}
	if post.Poster != c.Signer {
		return protocol.Errorf(protocol.ErrNotPoster, "post %d belongs to %s", a.PostID, post.Poster.Short())
	}
	post.Data = []byte(a.Data)
	if err := p.storePost(c, addr, post); err != nil {
		return err
	}
	c.Emit(postEdited(a.Board, c.Signer, addr, a.PostID, post))
	return nil
}

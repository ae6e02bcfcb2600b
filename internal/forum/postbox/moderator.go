package postbox

// DesignateModerator mints one moderator credential to the target, signed
// by the board's own authority.
func (p *Program) DesignateModerator(c *Ctx, a DesignateModeratorArgs) error {
	b, err := p.loadBoard(c, a.Board)
	if err != nil {
		return err
	}
	if err := p.requireOwner(c, b); err != nil {
		return err
	}
	if _, err := c.Assets.MintTo(b.ModeratorMint, a.Board, a.Target, 1, c.Signer); err != nil {
		return err
	}
	c.Emit(moderatorDesignated(a.Board, c.Signer, a.Target, b.ModeratorMint))
	return nil
}

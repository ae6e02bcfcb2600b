package postbox

import (
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// Initialize creates a board for (target, subject) and the credential class
// its moderators hold. An empty subject is the target's personal board and
// only the target may create it.
func (p *Program) Initialize(c *Ctx, a InitializeArgs) error {
	personal := a.Subject == ""
	if personal && a.Target != c.Signer {
		return protocol.NewError(protocol.ErrNotPersonalPostbox)
	}
	if err := settings.ValidateOwners(a.Owners); err != nil {
		return err
	}
	if !ledger.ContainsKey(a.Owners, c.Signer) {
		return protocol.Errorf(protocol.ErrInvalidOwners, "owners must include the signer")
	}
	if a.Description.Data != nil {
		if err := settings.ValidateDescription(a.Description.Data); err != nil {
			return err
		}
	}

	addr := BoardAddress(p.cfg.ProgramID, a.Target, a.Subject)
	if _, ok, err := c.Ledger.Load(addr); err != nil {
		return err
	} else if ok {
		return protocol.Errorf(protocol.ErrAlreadyInitialized, "board %s", addr.Short())
	}

	b := &Board{
		ModeratorMint: ModeratorMintAddress(p.cfg.ProgramID, addr),
		Settings:      []settings.Data{settings.OwnerInfo{Owners: a.Owners}},
	}
	if a.Description.Data != nil {
		b.Settings = settings.Upsert(b.Settings, a.Description.Data)
	}
	if err := c.Ledger.Create(addr, p.cfg.ProgramID, c.Signer, b.Size()); err != nil {
		return err
	}
	if err := c.Ledger.Write(addr, p.cfg.ProgramID, b.Encode()); err != nil {
		return err
	}
	if err := c.Assets.CreateClass(b.ModeratorMint, addr, c.Signer); err != nil {
		return err
	}
	c.Emit(boardInitialized(addr, c.Signer, a, b))

	fee := p.cfg.Fees.NewPostbox
	if personal {
		fee = p.cfg.Fees.NewPersonalPostbox
	}
	return p.charge(c, fee)
}

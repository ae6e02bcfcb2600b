package postbox

import (
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// UpsertSetting replaces or adds one board setting. The signer funds any
// growth of the board record; shrinking leaves the funding in place.
func (p *Program) UpsertSetting(c *Ctx, a UpsertSettingArgs) error {
	b, err := p.loadBoard(c, a.Board)
	if err != nil {
		return err
	}
	if err := p.requireOwner(c, b); err != nil {
		return err
	}
	kind, ok := settings.ParseKind(a.Kind)
	if !ok {
		return protocol.Errorf(protocol.ErrMalformedSetting, "unknown setting kind %q", a.Kind)
	}
	if err := settings.Validate(kind, a.Data.Data); err != nil {
		return err
	}
	if v, ok := a.Data.Data.(settings.OwnerInfo); ok && !ledger.ContainsKey(v.Owners, c.Signer) {
		return protocol.Errorf(protocol.ErrInvalidOwners, "new owner list drops the signer %s", c.Signer.Short())
	}
	b.Settings = settings.Upsert(b.Settings, a.Data.Data)
	if err := p.storeBoard(c, a.Board, b); err != nil {
		return err
	}
	c.Emit(settingUpdated(a.Board, c.Signer, a.Data.Data))
	return nil
}

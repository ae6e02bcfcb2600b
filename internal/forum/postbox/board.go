package postbox

import (
	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

var boardDiscriminator = codec.Discriminator("account:Postbox")

// Board is the root record of a forum. Settings holds at most one entry
// per kind.
type Board struct {
	MaxChildID    uint32
	ModeratorMint ledger.Key
	Settings      []settings.Data
}

func BoardAddress(program, target ledger.Key, subject string) ledger.Key {
	return ledger.Derive(program, []byte("dispatch"), []byte("postbox"), target[:], []byte(subject))
}

// ModeratorMintAddress is the credential class whose holders may delete
// any post on the board.
func ModeratorMintAddress(program, board ledger.Key) ledger.Key {
	return ledger.Derive(program, []byte("moderator"), board[:])
}

func (b *Board) Size() int {
	return codec.DiscriminatorSize + 4 + codec.KeySize + settings.ListSize(b.Settings)
}

func (b *Board) Encode() []byte {
	w := codec.NewWriter(b.Size())
	w.Fixed(boardDiscriminator[:])
	w.U32(b.MaxChildID)
	w.Key(b.ModeratorMint)
	settings.EncodeList(w, b.Settings)
	return w.Data()
}

func DecodeBoard(data []byte) (*Board, error) {
	r := codec.NewReader(data)
	r.Expect(boardDiscriminator)
	b := &Board{MaxChildID: r.U32(), ModeratorMint: r.Key()}
	b.Settings = settings.DecodeList(r)
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) Owners() []ledger.Key { return settings.Owners(b.Settings) }

func (b *Board) IsOwner(k ledger.Key) bool { return ledger.ContainsKey(b.Owners(), k) }

// Rule is the default restriction for top-level posts.
func (b *Board) Rule() restriction.Rule { return settings.Rule(b.Settings) }

func (p *Program) loadBoard(c *Ctx, addr ledger.Key) (*Board, error) {
	rec, ok, err := c.Ledger.Load(addr)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Owner != p.cfg.ProgramID {
		return nil, protocol.Errorf(protocol.ErrBoardNotFound, "board %s", addr.Short())
	}
	b, err := DecodeBoard(rec.Data)
	if err != nil {
		return nil, protocol.Errorf(protocol.ErrBoardNotFound, "board %s: %v", addr.Short(), err)
	}
	return b, nil
}

// storeBoard writes b back, resizing the record first when the encoded
// length changed. The signer funds any growth.
func (p *Program) storeBoard(c *Ctx, addr ledger.Key, b *Board) error {
	data := b.Encode()
	rec, _, err := c.Ledger.Load(addr)
	if err != nil {
		return err
	}
	if len(rec.Data) != len(data) {
		if err := c.Ledger.Resize(addr, p.cfg.ProgramID, len(data), c.Signer); err != nil {
			return err
		}
	}
	return c.Ledger.Write(addr, p.cfg.ProgramID, data)
}

func (p *Program) requireOwner(c *Ctx, b *Board) error {
	if !b.IsOwner(c.Signer) {
		return protocol.Errorf(protocol.ErrNotOwner, "%s is not an owner", c.Signer.Short())
	}
	return nil
}

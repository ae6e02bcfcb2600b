package postbox

import (
	"encoding/binary"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

var postDiscriminator = codec.Discriminator("account:Post")

// Post is one message on a board. A reply carries its parent's restriction.
type Post struct {
	Board       ledger.Key
	Poster      ledger.Key
	Data        []byte
	UpVotes     uint16
	DownVotes   uint16
	ReplyTo     *ledger.Key
	Restriction restriction.Rule
}

func PostAddress(program, board ledger.Key, id uint32) ledger.Key {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], id)
	return ledger.Derive(program, []byte("dispatch"), []byte("post"), board[:], seed[:])
}

func (p *Post) Size() int {
	return ProjectPostSize(len(p.Data), p.ReplyTo != nil, p.Restriction)
}

func (p *Post) Encode() []byte {
	w := codec.NewWriter(p.Size())
	w.Fixed(postDiscriminator[:])
	w.Key(p.Board)
	w.Key(p.Poster)
	w.Bytes(p.Data)
	w.U16(p.UpVotes)
	w.U16(p.DownVotes)
	if p.ReplyTo != nil {
		w.U8(1)
		w.Key(*p.ReplyTo)
	} else {
		w.U8(0)
	}
	if p.Restriction != nil {
		w.U8(1)
		restriction.Encode(w, p.Restriction)
	} else {
		w.U8(0)
	}
	return w.Data()
}

func DecodePost(data []byte) (*Post, error) {
	r := codec.NewReader(data)
	r.Expect(postDiscriminator)
	p := &Post{
		Board:     r.Key(),
		Poster:    r.Key(),
		Data:      r.Bytes(),
		UpVotes:   r.U16(),
		DownVotes: r.U16(),
	}
	if r.Bool() {
		k := ledger.Key(r.Key())
		p.ReplyTo = &k
	}
	if r.Bool() {
		p.Restriction = restriction.Decode(r)
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// loadPost returns the post at addr, or notFound when the address does not
// hold a post of this program.
func (p *Program) loadPost(c *Ctx, addr ledger.Key, notFound string) (*Post, error) {
	rec, ok, err := c.Ledger.Load(addr)
	if err != nil {
		return nil, err
	}
	if !ok || rec.Owner != p.cfg.ProgramID {
		return nil, protocol.Errorf(notFound, "post %s", addr.Short())
	}
	post, err := DecodePost(rec.Data)
	if err != nil {
		return nil, protocol.Errorf(notFound, "post %s: %v", addr.Short(), err)
	}
	return post, nil
}

func (p *Program) storePost(c *Ctx, addr ledger.Key, post *Post) error {
	data := post.Encode()
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

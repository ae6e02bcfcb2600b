package postbox

import (
	"math"

	"postbox.dev/internal/codec"
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

var voteLedgerDiscriminator = codec.Discriminator("account:VoteLedger")

type VoteEntry struct {
	PostID uint32
	Up     bool
}

// VoteLedger records one voter's votes on one board.
type VoteLedger struct {
	Votes []VoteEntry
}

func VoteLedgerAddress(program, board, voter ledger.Key) ledger.Key {
	return ledger.Derive(program, []byte("votes"), board[:], voter[:])
}

func (v *VoteLedger) Size() int {
	return codec.DiscriminatorSize + 4 + 5*len(v.Votes)
}

func (v *VoteLedger) Encode() []byte {
	w := codec.NewWriter(v.Size())
	w.Fixed(voteLedgerDiscriminator[:])
	w.U32(uint32(len(v.Votes)))
	for _, e := range v.Votes {
		w.U32(e.PostID)
		w.Bool(e.Up)
	}
	return w.Data()
}

func DecodeVoteLedger(data []byte) (*VoteLedger, error) {
	r := codec.NewReader(data)
	r.Expect(voteLedgerDiscriminator)
	n := r.Len()
	v := &VoteLedger{}
	for i := 0; i < n && r.Err() == nil; i++ {
		v.Votes = append(v.Votes, VoteEntry{PostID: r.U32(), Up: r.Bool()})
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// Vote counts an up or down vote after checking the post's own restriction.
// Counters stop at their maximum. With vote tracking on, repeating a vote
// fails and voting the other way moves the vote.
func (p *Program) Vote(c *Ctx, a VoteArgs) error {
	b, addr, post, err := p.postAt(c, a.Board, a.PostID)
	if err != nil {
		return err
	}
	ev, err := evidence(a.Proofs, a.Accounts)
	if err != nil {
		return err
	}
	sub := restriction.Subject{Actor: c.Signer, Owners: b.Owners(), Bypass: p.cfg.Policy.BypassOnVote}
	if err := restriction.Validate(post.Restriction, sub, ev, c.Assets); err != nil {
		return err
	}

	if p.cfg.Policy.TrackVotes {
		prev, voted, err := p.recordVote(c, a)
		if err != nil {
			return err
		}
		if voted {
			if prev == a.Up {
				return protocol.Errorf(protocol.ErrAlreadyVoted, "post %d", a.PostID)
			}
			if prev {
				post.UpVotes = decr(post.UpVotes)
			} else {
				post.DownVotes = decr(post.DownVotes)
			}
		}
	}
	if a.Up {
		post.UpVotes = incr(post.UpVotes)
	} else {
		post.DownVotes = incr(post.DownVotes)
	}
	if err := p.storePost(c, addr, post); err != nil {
		return err
	}
	c.Emit(postVoted(a.Board, c.Signer, addr, a.PostID, a.Up, post))
	return p.charge(c, p.cfg.Fees.Vote)
}

// recordVote stores the signer's vote and returns the previous direction.
// A repeated vote is left unchanged for the caller to reject.
func (p *Program) recordVote(c *Ctx, a VoteArgs) (prev bool, voted bool, err error) {
	addr := VoteLedgerAddress(p.cfg.ProgramID, a.Board, c.Signer)
	rec, ok, err := c.Ledger.Load(addr)
	if err != nil {
		return false, false, err
	}
	vl := &VoteLedger{}
	if ok {
		if vl, err = DecodeVoteLedger(rec.Data); err != nil {
			return false, false, protocol.Errorf(protocol.ErrInternal, "vote ledger %s: %v", addr.Short(), err)
		}
	}
	for i, e := range vl.Votes {
		if e.PostID != a.PostID {
			continue
		}
		if e.Up == a.Up {
			return e.Up, true, nil
		}
		vl.Votes[i].Up = a.Up
		return e.Up, true, c.Ledger.Write(addr, p.cfg.ProgramID, vl.Encode())
	}
	vl.Votes = append(vl.Votes, VoteEntry{PostID: a.PostID, Up: a.Up})
	if !ok {
		if err := c.Ledger.Create(addr, p.cfg.ProgramID, c.Signer, vl.Size()); err != nil {
			return false, false, err
		}
	} else if err := c.Ledger.Resize(addr, p.cfg.ProgramID, vl.Size(), c.Signer); err != nil {
		return false, false, err
	}
	return false, false, c.Ledger.Write(addr, p.cfg.ProgramID, vl.Encode())
}

func incr(v uint16) uint16 {
	if v == math.MaxUint16 {
		return v
	}
	return v + 1
}

func decr(v uint16) uint16 {
	if v == 0 {
		return 0
	}
	return v - 1
}

// Package postbox implements the board and post instructions: creation,
// replies, voting, moderation and settings, with restriction checks and
// storage funding.
package postbox

import (
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// Fees are flat charges paid by the signer to the treasury.
type Fees struct {
	NewPostbox         uint64 `yaml:"new_postbox" json:"new_postbox"`
	NewPersonalPostbox uint64 `yaml:"new_personal_postbox" json:"new_personal_postbox"`
	Post               uint64 `yaml:"post" json:"post"`
	Vote               uint64 `yaml:"vote" json:"vote"`
}

// Policy toggles behaviours that differed between deployed revisions.
type Policy struct {
	// BypassOnVote lets board owners vote on restricted posts without proofs.
	BypassOnVote bool `yaml:"bypass_on_vote" json:"bypass_on_vote"`
	// BypassOnReply lets board owners reply to restricted posts without proofs.
	// On by default; only vote-time checks have shipped without the bypass.
	BypassOnReply bool `yaml:"bypass_on_reply" json:"bypass_on_reply"`
	// TrackVotes keeps a per-voter ledger so a voter counts once per post.
	TrackVotes bool `yaml:"track_votes" json:"track_votes"`
}

type Config struct {
	ProgramID ledger.Key
	Treasury  ledger.Key
	Fees      Fees
	// Growth is how far max_child_id advances when a post lands at or past it.
	Growth uint32
	Policy Policy
}

func DefaultConfig() Config {
	return Config{
		ProgramID: ledger.Named("postbox-program"),
		Treasury:  ledger.Named("postbox-treasury"),
		Fees: Fees{
			NewPostbox:         100_000,
			NewPersonalPostbox: 100_000,
			Post:               50_000,
			Vote:               50_000,
		},
		Growth: 1,
		Policy: Policy{BypassOnReply: true},
	}
}

// Assets is the external asset registry: ownership lookups plus the
// credential class and mint calls used for moderators.
type Assets interface {
	restriction.Resolver
	CreateClass(class, authority, payer ledger.Key) error
	MintTo(class, authority, to ledger.Key, amount uint64, payer ledger.Key) (ledger.Key, error)
}

// Ctx is the state one instruction runs against.
type Ctx struct {
	Signer ledger.Key
	Ledger *ledger.Ledger
	Assets Assets

	events []protocol.Event
}

func (c *Ctx) Emit(e protocol.Event) { c.events = append(c.events, e) }

func (c *Ctx) Events() []protocol.Event { return c.events }

type Program struct {
	cfg Config
}

func New(cfg Config) *Program {
	if cfg.Growth == 0 {
		cfg.Growth = 1
	}
	return &Program{cfg: cfg}
}

func (p *Program) Config() Config { return p.cfg }

func (p *Program) ID() ledger.Key { return p.cfg.ProgramID }

func (p *Program) charge(c *Ctx, fee uint64) error {
	return c.Ledger.Transfer(c.Signer, p.cfg.Treasury, fee)
}

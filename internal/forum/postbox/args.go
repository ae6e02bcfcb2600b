package postbox

import (
	"postbox.dev/internal/forum/restriction"
	"postbox.dev/internal/forum/settings"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

type InitializeArgs struct {
	Target ledger.Key `json:"target"`
	// Subject names the board; empty means the target's personal board.
	Subject     string         `json:"subject"`
	Owners      []ledger.Key   `json:"owners"`
	Description settings.Entry `json:"description"`
}

type CreatePostArgs struct {
	Board       ledger.Key              `json:"board"`
	PostID      uint32                  `json:"post_id"`
	Data        string                  `json:"data"`
	ReplyTo     *ledger.Key             `json:"reply_to,omitempty"`
	Restriction restriction.JSON        `json:"restriction"`
	Proofs      []restriction.ProofJSON `json:"proofs,omitempty"`
	Accounts    []ledger.Key            `json:"accounts,omitempty"`
}

type DeleteOwnPostArgs struct {
	Board  ledger.Key `json:"board"`
	PostID uint32     `json:"post_id"`
}

type DeletePostByModeratorArgs struct {
	Board  ledger.Key `json:"board"`
	PostID uint32     `json:"post_id"`
	// ModeratorBalance is the signer's balance record for the board's
	// moderator credential.
	ModeratorBalance ledger.Key `json:"moderator_balance"`
}

type VoteArgs struct {
	Board    ledger.Key              `json:"board"`
	PostID   uint32                  `json:"post_id"`
	Up       bool                    `json:"up"`
	Proofs   []restriction.ProofJSON `json:"proofs,omitempty"`
	Accounts []ledger.Key            `json:"accounts,omitempty"`
}

type DesignateModeratorArgs struct {
	Board  ledger.Key `json:"board"`
	Target ledger.Key `json:"target"`
}

type UpsertSettingArgs struct {
	Board ledger.Key     `json:"board"`
	Kind  string         `json:"kind"`
	Data  settings.Entry `json:"data"`
}

type EditPostArgs struct {
	Board  ledger.Key `json:"board"`
	PostID uint32     `json:"post_id"`
	Data   string     `json:"data"`
}

func evidence(proofs []restriction.ProofJSON, accounts []ledger.Key) (restriction.Evidence, error) {
	ev := restriction.Evidence{Accounts: accounts}
	for i, pj := range proofs {
		pr, err := pj.Proof()
		if err != nil {
			return restriction.Evidence{}, protocol.Errorf(protocol.ErrBadRequest, "proof %d: %v", i, err)
		}
		ev.Proofs = append(ev.Proofs, pr)
	}
	return ev, nil
}

// TokenProof and NftProof build wire proofs for Go callers.
func TokenProof(tokenIdx uint8) restriction.ProofJSON {
	return restriction.ProofToJSON(restriction.TokenProof{TokenIdx: tokenIdx})
}

func NftProof(tokenIdx, metaIdx, collectionIdx uint8) restriction.ProofJSON {
	return restriction.ProofToJSON(restriction.NftProof{TokenIdx: tokenIdx, MetaIdx: metaIdx, CollectionIdx: collectionIdx})
}

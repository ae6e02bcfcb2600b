package restriction

import (
	"encoding/json"
	"fmt"

	"postbox.dev/internal/ledger"
)

// Rule JSON uses a single-key object naming the variant, for example
// {"tokenOwnership":{"mint":"..","amount":5}} or {"null":{}}.

type tokenOwnershipJSON struct {
	Mint   ledger.Key `json:"mint"`
	Amount uint64     `json:"amount"`
}

type nftOwnershipJSON struct {
	CollectionID ledger.Key `json:"collectionId"`
}

type nftListJSON struct {
	CollectionIDs []ledger.Key `json:"collectionIds"`
}

type tokenOrNftJSON struct {
	Mints         []TokenRequirement `json:"mints"`
	CollectionIDs []ledger.Key       `json:"collectionIds"`
}

type ruleJSON struct {
	TokenOwnership         *tokenOwnershipJSON `json:"tokenOwnership,omitempty"`
	NftOwnership           *nftOwnershipJSON   `json:"nftOwnership,omitempty"`
	NftListAnyOwnership    *nftListJSON        `json:"nftListAnyOwnership,omitempty"`
	TokenOrNftAnyOwnership *tokenOrNftJSON     `json:"tokenOrNftAnyOwnership,omitempty"`
	Null                   *struct{}           `json:"null,omitempty"`
}

func MarshalRule(rule Rule) ([]byte, error) {
	var j ruleJSON
	switch r := rule.(type) {
	case TokenOwnership:
		j.TokenOwnership = &tokenOwnershipJSON{Mint: r.Mint, Amount: r.Amount}
	case NftOwnership:
		j.NftOwnership = &nftOwnershipJSON{CollectionID: r.Collection}
	case NftListAnyOwnership:
		j.NftListAnyOwnership = &nftListJSON{CollectionIDs: r.Collections}
	case TokenOrNftAnyOwnership:
		j.TokenOrNftAnyOwnership = &tokenOrNftJSON{Mints: r.Tokens, CollectionIDs: r.Collections}
	case Null:
		j.Null = &struct{}{}
	default:
		return nil, fmt.Errorf("restriction: unknown rule %T", rule)
	}
	return json.Marshal(j)
}

func UnmarshalRule(b []byte) (Rule, error) {
	var j ruleJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	var out []Rule
	if j.TokenOwnership != nil {
		out = append(out, TokenOwnership{Mint: j.TokenOwnership.Mint, Amount: j.TokenOwnership.Amount})
	}
	if j.NftOwnership != nil {
		out = append(out, NftOwnership{Collection: j.NftOwnership.CollectionID})
	}
	if j.NftListAnyOwnership != nil {
		out = append(out, NftListAnyOwnership{Collections: j.NftListAnyOwnership.CollectionIDs})
	}
	if j.TokenOrNftAnyOwnership != nil {
		out = append(out, TokenOrNftAnyOwnership{Tokens: j.TokenOrNftAnyOwnership.Mints, Collections: j.TokenOrNftAnyOwnership.CollectionIDs})
	}
	if j.Null != nil {
		out = append(out, Null{})
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("restriction: want exactly one variant, got %d", len(out))
	}
	return out[0], nil
}

// JSON wraps a Rule for embedding in JSON documents. A nil Rule encodes as null.
type JSON struct {
	Rule Rule
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j.Rule == nil {
		return []byte("null"), nil
	}
	return MarshalRule(j.Rule)
}

func (j *JSON) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		j.Rule = nil
		return nil
	}
	r, err := UnmarshalRule(b)
	if err != nil {
		return err
	}
	j.Rule = r
	return nil
}

type tokenProofJSON struct {
	TokenIdx uint8 `json:"tokenIdx"`
}

type nftProofJSON struct {
	TokenIdx      uint8 `json:"tokenIdx"`
	MetaIdx       uint8 `json:"metaIdx"`
	CollectionIdx uint8 `json:"collectionIdx"`
}

// ProofJSON is the wire form of a Proof.
type ProofJSON struct {
	TokenOwnership *tokenProofJSON `json:"tokenOwnership,omitempty"`
	NftOwnership   *nftProofJSON   `json:"nftOwnership,omitempty"`
}

func (p ProofJSON) Proof() (Proof, error) {
	switch {
	case p.TokenOwnership != nil && p.NftOwnership == nil:
		return TokenProof{TokenIdx: p.TokenOwnership.TokenIdx}, nil
	case p.NftOwnership != nil && p.TokenOwnership == nil:
		n := p.NftOwnership
		return NftProof{TokenIdx: n.TokenIdx, MetaIdx: n.MetaIdx, CollectionIdx: n.CollectionIdx}, nil
	default:
		return nil, fmt.Errorf("restriction: proof must name exactly one variant")
	}
}

func ProofToJSON(p Proof) ProofJSON {
	switch v := p.(type) {
	case TokenProof:
		return ProofJSON{TokenOwnership: &tokenProofJSON{TokenIdx: v.TokenIdx}}
	case NftProof:
		return ProofJSON{NftOwnership: &nftProofJSON{TokenIdx: v.TokenIdx, MetaIdx: v.MetaIdx, CollectionIdx: v.CollectionIdx}}
	}
	return ProofJSON{}
}

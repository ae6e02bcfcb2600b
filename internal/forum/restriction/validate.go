package restriction

import (
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
)

// Balance is the resolved view of an asset balance record.
type Balance struct {
	Owner  ledger.Key
	Asset  ledger.Key
	Amount uint64
}

type Collection struct {
	Key      ledger.Key
	Verified bool
}

// Metadata is the resolved view of an asset metadata record.
type Metadata struct {
	Asset      ledger.Key
	Collection *Collection
}

// Resolver reads the external asset registry.
type Resolver interface {
	ResolveBalance(account ledger.Key) (Balance, error)
	ResolveMetadata(account ledger.Key) (Metadata, error)
	// MetadataAddress is where the registry keeps metadata for asset.
	MetadataAddress(asset ledger.Key) ledger.Key
	// IsRegistryRecord reports whether account exists and is owned by the registry.
	IsRegistryRecord(account ledger.Key) bool
}

// Proof points into the instruction's extra account list.
type Proof interface {
	Kind() Kind
	isProof()
}

type TokenProof struct {
	TokenIdx uint8
}

type NftProof struct {
	TokenIdx      uint8
	MetaIdx       uint8
	CollectionIdx uint8
}

func (TokenProof) Kind() Kind { return KindTokenOwnership }
func (NftProof) Kind() Kind   { return KindNftOwnership }
func (TokenProof) isProof()   {}
func (NftProof) isProof()     {}

// Evidence is what the caller supplied alongside the instruction.
type Evidence struct {
	Proofs   []Proof
	Accounts []ledger.Key
}

// Subject is the actor being checked. Owners listed on the board skip
// evaluation when Bypass is set.
type Subject struct {
	Actor  ledger.Key
	Owners []ledger.Key
	Bypass bool
}

// Validate succeeds when subject satisfies rule with the supplied evidence.
// A nil rule means no restriction applies.
func Validate(rule Rule, sub Subject, ev Evidence, res Resolver) error {
	if rule == nil {
		return nil
	}
	if sub.Bypass && ledger.ContainsKey(sub.Owners, sub.Actor) {
		return nil
	}
	c := checker{actor: sub.Actor, accounts: ev.Accounts, res: res}

	switch r := rule.(type) {
	case Null:
		return nil

	case TokenOwnership:
		p, err := single[TokenProof](ev.Proofs)
		if err != nil {
			return err
		}
		bal, err := c.balance(p.TokenIdx)
		if err != nil {
			return err
		}
		if !c.holds(bal, TokenRequirement{Mint: r.Mint, Amount: r.Amount}) {
			return protocol.NewError(protocol.ErrMissingTokenRestriction)
		}
		return nil

	case NftOwnership:
		p, err := single[NftProof](ev.Proofs)
		if err != nil {
			return err
		}
		nft, err := c.nft(p)
		if err != nil {
			return err
		}
		return c.inCollection(nft, r.Collection)

	case NftListAnyOwnership:
		nfts := all[NftProof](ev.Proofs)
		if len(nfts) == 0 {
			return protocol.NewError(protocol.ErrMissingRequiredOffsets)
		}
		var structural error
		if c.anyNft(nfts, r.Collections, &structural) {
			return nil
		}
		if structural != nil {
			return structural
		}
		return protocol.NewError(protocol.ErrMissingCollectionNftRestriction)

	case TokenOrNftAnyOwnership:
		tokens := all[TokenProof](ev.Proofs)
		nfts := all[NftProof](ev.Proofs)
		if len(tokens) == 0 && len(nfts) == 0 {
			return protocol.NewError(protocol.ErrMissingRequiredOffsets)
		}
		var structural error
		if c.anyToken(tokens, r.Tokens, &structural) || c.anyNft(nfts, r.Collections, &structural) {
			return nil
		}
		if structural != nil {
			return structural
		}
		if len(nfts) > 0 {
			return protocol.NewError(protocol.ErrMissingCollectionNftRestriction)
		}
		return protocol.NewError(protocol.ErrMissingTokenRestriction)

	default:
		return protocol.Errorf(protocol.ErrMalformedSetting, "unknown restriction %T", rule)
	}
}

func single[P Proof](proofs []Proof) (P, error) {
	var zero P
	matched := all[P](proofs)
	switch {
	case len(matched) == 0:
		return zero, protocol.NewError(protocol.ErrMissingRequiredOffsets)
	case len(matched) > 1:
		return zero, protocol.Errorf(protocol.ErrInvalidRestrictionExtraAccounts, "expected exactly one %s proof, got %d", zero.Kind(), len(matched))
	}
	return matched[0], nil
}

func all[P Proof](proofs []Proof) []P {
	var out []P
	for _, p := range proofs {
		if v, ok := p.(P); ok {
			out = append(out, v)
		}
	}
	return out
}

// structuralFailure marks errors caused by malformed proofs rather than by
// the actor not holding the asset.
func structuralFailure(err error) bool {
	switch protocol.CodeOf(err) {
	case protocol.ErrInvalidRestrictionExtraAccounts,
		protocol.ErrNotTokenAccount,
		protocol.ErrInvalidMetadataKey,
		protocol.ErrMetadataAccountInvalid:
		return true
	}
	return false
}

type checker struct {
	actor    ledger.Key
	accounts []ledger.Key
	res      Resolver
}

type nftView struct {
	meta       Metadata
	collection ledger.Key
}

func (c checker) account(idx uint8) (ledger.Key, error) {
	if int(idx) >= len(c.accounts) {
		return ledger.Key{}, protocol.Errorf(protocol.ErrInvalidRestrictionExtraAccounts, "account index %d out of range (%d supplied)", idx, len(c.accounts))
	}
	return c.accounts[idx], nil
}

func (c checker) balance(idx uint8) (Balance, error) {
	acct, err := c.account(idx)
	if err != nil {
		return Balance{}, err
	}
	bal, err := c.res.ResolveBalance(acct)
	if err != nil {
		return Balance{}, protocol.Errorf(protocol.ErrNotTokenAccount, "%s: %v", acct.Short(), err)
	}
	return bal, nil
}

func (c checker) holds(bal Balance, req TokenRequirement) bool {
	return bal.Owner == c.actor && bal.Asset == req.Mint && bal.Amount >= req.Amount
}

// nft resolves the proof's accounts. Errors other than ownership are
// independent of the collection being asked for.
func (c checker) nft(p NftProof) (nftView, error) {
	bal, err := c.balance(p.TokenIdx)
	if err != nil {
		return nftView{}, err
	}
	metaAcct, err := c.account(p.MetaIdx)
	if err != nil {
		return nftView{}, err
	}
	collAcct, err := c.account(p.CollectionIdx)
	if err != nil {
		return nftView{}, err
	}
	if metaAcct != c.res.MetadataAddress(bal.Asset) {
		return nftView{}, protocol.NewError(protocol.ErrInvalidMetadataKey)
	}
	meta, err := c.res.ResolveMetadata(metaAcct)
	if err != nil {
		return nftView{}, protocol.Errorf(protocol.ErrMetadataAccountInvalid, "%s: %v", metaAcct.Short(), err)
	}
	if bal.Owner != c.actor || bal.Amount != 1 {
		return nftView{}, protocol.NewError(protocol.ErrMissingCollectionNftRestriction)
	}
	return nftView{meta: meta, collection: collAcct}, nil
}

func (c checker) inCollection(nft nftView, collection ledger.Key) error {
	mc := nft.meta.Collection
	if mc == nil {
		return protocol.NewError(protocol.ErrNoCollectionOnMetadata)
	}
	if !mc.Verified || mc.Key != collection || nft.collection != mc.Key || !c.res.IsRegistryRecord(nft.collection) {
		return protocol.NewError(protocol.ErrMissingCollectionNftRestriction)
	}
	return nil
}

func (c checker) anyToken(proofs []TokenProof, reqs []TokenRequirement, structural *error) bool {
	for _, p := range proofs {
		bal, err := c.balance(p.TokenIdx)
		if err != nil {
			if *structural == nil && structuralFailure(err) {
				*structural = err
			}
			continue
		}
		for _, req := range reqs {
			if c.holds(bal, req) {
				return true
			}
		}
	}
	return false
}

func (c checker) anyNft(proofs []NftProof, collections []ledger.Key, structural *error) bool {
	for _, p := range proofs {
		nft, err := c.nft(p)
		if err != nil {
			if *structural == nil && structuralFailure(err) {
				*structural = err
			}
			continue
		}
		for _, coll := range collections {
			if c.inCollection(nft, coll) == nil {
				return true
			}
		}
	}
	return false
}

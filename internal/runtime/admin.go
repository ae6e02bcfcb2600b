package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"postbox.dev/internal/assets"
	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/persistence/snapshot"
	"postbox.dev/internal/protocol"
)

// Operator ops. They are journaled like program ops but are never
// accepted from the client transport.
const (
	OpAirdrop    = "ADMIN_AIRDROP"
	OpAssetClass = "ADMIN_ASSET_CLASS"
	OpAssetMint  = "ADMIN_ASSET_MINT"
	OpAssetNFT   = "ADMIN_ASSET_NFT"
)

func isAdminOp(op string) bool {
	switch op {
	case OpAirdrop, OpAssetClass, OpAssetMint, OpAssetNFT:
		return true
	}
	return false
}

type AirdropArgs struct {
	To     ledger.Key `json:"to"`
	Amount uint64     `json:"amount"`
}

type AssetClassArgs struct {
	Class     ledger.Key `json:"class"`
	Authority ledger.Key `json:"authority"`
}

type AssetMintArgs struct {
	Class     ledger.Key `json:"class"`
	Authority ledger.Key `json:"authority"`
	To        ledger.Key `json:"to"`
	Amount    uint64     `json:"amount"`
}

type AssetNFTArgs struct {
	Asset      ledger.Key `json:"asset"`
	Collection ledger.Key `json:"collection"`
	Verified   bool       `json:"verified"`
	Authority  ledger.Key `json:"authority"`
	Owner      ledger.Key `json:"owner"`
}

// execAdmin runs an operator op. The signer pays for any records created.
func (r *Runtime) execAdmin(c *postbox.Ctx, in Instruction) error {
	reg := assets.New(r.cfg.AssetsID, c.Ledger)
	switch in.Op {
	case OpAirdrop:
		var a AirdropArgs
		if err := decodeAdmin(in.Args, &a); err != nil {
			return err
		}
		if a.To.IsZero() || a.Amount == 0 {
			return protocol.Errorf(protocol.ErrBadRequest, "airdrop needs to and amount")
		}
		return c.Ledger.Credit(a.To, a.Amount)
	case OpAssetClass:
		var a AssetClassArgs
		if err := decodeAdmin(in.Args, &a); err != nil {
			return err
		}
		return reg.CreateClass(a.Class, a.Authority, c.Signer)
	case OpAssetMint:
		var a AssetMintArgs
		if err := decodeAdmin(in.Args, &a); err != nil {
			return err
		}
		_, err := reg.MintTo(a.Class, a.Authority, a.To, a.Amount, c.Signer)
		return err
	case OpAssetNFT:
		var a AssetNFTArgs
		if err := decodeAdmin(in.Args, &a); err != nil {
			return err
		}
		_, err := reg.CreateNFT(a.Asset, a.Collection, a.Verified, a.Authority, a.Owner, c.Signer)
		return err
	}
	return protocol.Errorf(protocol.ErrBadRequest, "unknown admin op %q", in.Op)
}

func decodeAdmin(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.Errorf(protocol.ErrBadRequest, "args: %v", err)
	}
	return nil
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Seq uint64
	Err string
}

// RequestSnapshot asks the loop goroutine to hand the current ledger to
// the snapshot sink. Safe to call from other goroutines.
func (r *Runtime) RequestSnapshot(ctx context.Context) (seq uint64, err error) {
	resp := make(chan adminSnapshotResp, 1)
	select {
	case r.admin <- adminSnapshotReq{Resp: resp}:
	case <-r.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-resp:
		if res.Err != "" {
			return res.Seq, errors.New(res.Err)
		}
		return res.Seq, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Runtime) handleAdminSnapshot(req adminSnapshotReq) {
	seq, err := r.emitSnapshot()
	resp := adminSnapshotResp{Seq: seq}
	if err != nil {
		resp.Err = err.Error()
	}
	select {
	case req.Resp <- resp:
	default:
	}
}

func (r *Runtime) emitSnapshot() (uint64, error) {
	if r.snapshotSink == nil {
		r.metrics.SnapshotsTotal.WithLabelValues("unconfigured").Inc()
		return r.seq, errors.New("snapshot sink not configured")
	}
	snap, err := r.ExportSnapshot()
	if err != nil {
		r.metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return r.seq, err
	}
	select {
	case r.snapshotSink <- snap:
		r.metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
		return r.seq, nil
	default:
		r.metrics.SnapshotsTotal.WithLabelValues("backpressure").Inc()
		return r.seq, errors.New("snapshot sink backpressure")
	}
}

// ExportSnapshot copies the ledger at the current seq. The store must
// support dumping.
func (r *Runtime) ExportSnapshot() (snapshot.SnapshotV1, error) {
	d, ok := r.store.(ledger.Dumper)
	if !ok {
		return snapshot.SnapshotV1{}, errors.New("store cannot be dumped")
	}
	dump, err := d.Dump()
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	return snapshot.FromDump(r.seq, r.cursor, r.cfg.Rent, dump, time.Now().UTC().Format(time.RFC3339)), nil
}

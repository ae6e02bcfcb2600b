package runtime

import (
	"postbox.dev/internal/assets"
	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
)

type Config struct {
	Program  postbox.Config
	AssetsID ledger.Key
	Rent     ledger.Rent

	InboxSize int
	// SnapshotEvery emits a snapshot after every N applied instructions. 0 disables.
	SnapshotEvery uint64
	// EventRetention bounds the in-memory event history served to late subscribers.
	EventRetention int
	// SubscriberBuffer is the per-subscriber channel depth.
	SubscriberBuffer int
}

func DefaultConfig() Config {
	return Config{
		Program:          postbox.DefaultConfig(),
		AssetsID:         assets.DefaultID(),
		Rent:             ledger.DefaultRent(),
		InboxSize:        1024,
		SnapshotEvery:    10_000,
		EventRetention:   50_000,
		SubscriberBuffer: 256,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.AssetsID.IsZero() {
		c.AssetsID = d.AssetsID
	}
	if c.Rent == (ledger.Rent{}) {
		c.Rent = d.Rent
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.EventRetention <= 0 {
		c.EventRetention = d.EventRetention
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	return c
}

// Package tuning loads the deployment configuration file.
package tuning

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"postbox.dev/internal/forum/postbox"
	"postbox.dev/internal/ledger"
	"postbox.dev/internal/runtime"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" validate:"required"`

	// Program, treasury and asset registry ids accept a hex key or a name.
	ProgramID string `yaml:"program_id" validate:"required"`
	Treasury  string `yaml:"treasury" validate:"required"`
	AssetsID  string `yaml:"assets_id" validate:"required"`

	Fees   postbox.Fees   `yaml:"fees"`
	Policy postbox.Policy `yaml:"policy"`
	Growth uint32         `yaml:"growth" validate:"gte=1,lte=1024"`
	Rent   ledger.Rent    `yaml:"rent"`

	Runtime  RuntimeTuning  `yaml:"runtime"`
	Storage  StorageTuning  `yaml:"storage"`
	Snapshot SnapshotTuning `yaml:"snapshot"`
	Backup   BackupTuning   `yaml:"backup"`
}

type RuntimeTuning struct {
	InboxSize        int `yaml:"inbox_size" validate:"gte=1,lte=1048576"`
	EventRetention   int `yaml:"event_retention" validate:"gte=1"`
	SubscriberBuffer int `yaml:"subscriber_buffer" validate:"gte=1,lte=65536"`
}

type StorageTuning struct {
	// Ledger is "sqlite" or "memory".
	Ledger string `yaml:"ledger" validate:"oneof=sqlite memory"`
	// Index is "sqlite" or "none".
	Index string `yaml:"index" validate:"oneof=sqlite none"`
}

type SnapshotTuning struct {
	Every        uint64 `yaml:"every"`
	Keep         int    `yaml:"keep" validate:"gte=0"`
	ArchiveEvery uint64 `yaml:"archive_every"`
}

type BackupTuning struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint" validate:"required_if=Enabled true"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyEnv    string `yaml:"access_key_env"`
	SecretKeyEnv    string `yaml:"secret_key_env"`
	Workers         int    `yaml:"workers" validate:"gte=0,lte=64"`
	QueueCapacity   int    `yaml:"queue_capacity" validate:"gte=0"`
	IntervalSeconds int    `yaml:"interval_seconds" validate:"gte=0"`
}

var validate = validator.New()

func Defaults() Tuning {
	rc := runtime.DefaultConfig()
	return Tuning{
		ProtocolVersion: "1.0",
		ProgramID:       "postbox-program",
		Treasury:        "postbox-treasury",
		AssetsID:        "asset-registry",
		Fees:            rc.Program.Fees,
		Policy:          rc.Program.Policy,
		Growth:          rc.Program.Growth,
		Rent:            rc.Rent,
		Runtime: RuntimeTuning{
			InboxSize:        rc.InboxSize,
			EventRetention:   rc.EventRetention,
			SubscriberBuffer: rc.SubscriberBuffer,
		},
		Storage:  StorageTuning{Ledger: "sqlite", Index: "sqlite"},
		Snapshot: SnapshotTuning{Every: rc.SnapshotEvery, Keep: 24, ArchiveEvery: 100_000},
		Backup: BackupTuning{
			Region:          "auto",
			AccessKeyEnv:    "POSTBOX_BACKUP_ACCESS_KEY_ID",
			SecretKeyEnv:    "POSTBOX_BACKUP_SECRET_ACCESS_KEY",
			Workers:         2,
			QueueCapacity:   1024,
			IntervalSeconds: 300,
		},
	}
}

// Load reads path over Defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) normalize() {
	t.Storage.Ledger = strings.ToLower(strings.TrimSpace(t.Storage.Ledger))
	t.Storage.Index = strings.ToLower(strings.TrimSpace(t.Storage.Index))
	if t.Growth == 0 {
		t.Growth = 1
	}
	if t.Rent == (ledger.Rent{}) {
		t.Rent = ledger.DefaultRent()
	}
	if t.Backup.Region == "" {
		t.Backup.Region = "auto"
	}
}

func (t Tuning) Validate() error {
	return validate.Struct(t)
}

// RuntimeConfig maps the file onto the runtime's configuration.
func (t Tuning) RuntimeConfig() runtime.Config {
	return runtime.Config{
		Program: postbox.Config{
			ProgramID: ledger.ParseOrNamed(t.ProgramID),
			Treasury:  ledger.ParseOrNamed(t.Treasury),
			Fees:      t.Fees,
			Growth:    t.Growth,
			Policy:    t.Policy,
		},
		AssetsID:         ledger.ParseOrNamed(t.AssetsID),
		Rent:             t.Rent,
		InboxSize:        t.Runtime.InboxSize,
		SnapshotEvery:    t.Snapshot.Every,
		EventRetention:   t.Runtime.EventRetention,
		SubscriberBuffer: t.Runtime.SubscriberBuffer,
	}
}

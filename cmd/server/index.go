package main

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"postbox.dev/internal/persistence/indexdb"
	"postbox.dev/internal/runtime"
)

func openIndex(dataDir, backend string) (*indexdb.SQLiteIndex, error) {
	if backend != "sqlite" {
		return nil, nil
	}
	dir := filepath.Join(dataDir, "index")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return indexdb.OpenSQLite(filepath.Join(dir, "postbox.sqlite"))
}

func registerIndexMetrics(reg prometheus.Registerer, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "postbox", Subsystem: "index", Name: "queue_depth",
			Help: "Pending index writes.",
		}, func() float64 { return float64(idx.Stats().QueueDepth) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "postbox", Subsystem: "index", Name: "dropped_total",
			Help: "Index writes dropped because the queue was full.",
		}, func() float64 {
			s := idx.Stats()
			return float64(s.DropJournalTotal + s.DropEventsTotal + s.DropAuditTotal + s.DropSnapshotTotal)
		}),
	)
}

type multiJournalLogger []runtime.JournalLogger

func (m multiJournalLogger) WriteJournal(e runtime.JournalEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteJournal(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type multiAuditLogger []runtime.AuditLogger

func (m multiAuditLogger) WriteAudit(e runtime.AuditEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteAudit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

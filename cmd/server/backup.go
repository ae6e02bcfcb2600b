package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"postbox.dev/internal/persistence/backup"
	"postbox.dev/internal/tuning"
)

func buildBackup(t tuning.BackupTuning, dataDir string, logger *log.Logger) (*backup.Uploader, error) {
	if !envBool("POSTBOX_BACKUP", t.Enabled) {
		return nil, nil
	}
	accessKeyID := strings.TrimSpace(os.Getenv(t.AccessKeyEnv))
	secretAccessKey := strings.TrimSpace(os.Getenv(t.SecretKeyEnv))
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("backup enabled but %s/%s are not set", t.AccessKeyEnv, t.SecretKeyEnv)
	}
	client, err := backup.NewS3Client(backup.S3Config{
		Endpoint:        t.Endpoint,
		Bucket:          t.Bucket,
		Region:          t.Region,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return backup.NewUploader(client, dataDir, t.Prefix, t.Workers, t.QueueCapacity, logger), nil
}

func registerBackupMetrics(reg prometheus.Registerer, u *backup.Uploader) {
	if u == nil {
		return
	}
	gauge := func(name, help string, f func(backup.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "postbox",
			Subsystem: "backup",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(u.Stats()) })
	}
	counter := func(name, help string, f func(backup.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "postbox",
			Subsystem: "backup",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(u.Stats()) })
	}
	reg.MustRegister(
		gauge("queue_depth", "Current backup queue depth.", func(s backup.Stats) float64 { return float64(s.QueueDepth) }),
		counter("dropped_total", "Files dropped because the backup queue was full.", func(s backup.Stats) float64 { return float64(s.DroppedTotal) }),
		counter("uploaded_total", "Successful backup uploads.", func(s backup.Stats) float64 { return float64(s.UploadedTotal) }),
		counter("failed_total", "Backup uploads that failed after retry.", func(s backup.Stats) float64 { return float64(s.FailedTotal) }),
		gauge("last_success_unix", "Unix time of the last successful upload.", func(s backup.Stats) float64 { return float64(s.LastSuccessUnix) }),
	)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

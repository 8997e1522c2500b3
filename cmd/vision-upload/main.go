package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/synaptica-ai/vision-uploader/pkg/bulk"
	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/common/config"
	"github.com/synaptica-ai/vision-uploader/pkg/common/database"
	"github.com/synaptica-ai/vision-uploader/pkg/common/kafka"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/dicom"
	"github.com/synaptica-ai/vision-uploader/pkg/upload"
)

var errIncomplete = errors.New("upload did not complete")

func main() {
	logger.Init()
	if err := run(); err != nil {
		logger.Log.WithError(err).Fatal("vision-upload failed")
	}
}

func run() error {
	fs := pflag.NewFlagSet("vision-upload", pflag.ExitOnError)
	flags := config.BindFlags(fs)
	dataFolder := fs.StringP("data-folder", "d", "", "folder searched recursively for DICOM files")
	extension := fs.String("extension", "dcm", "extension of the DICOM files")
	groupBy := fs.String("group-by", "StudyInstanceUID", "DICOM attribute used to split the upload into runs")
	keepUIDs := fs.Bool("keep-uids", false, "upload with the original identifiers instead of generated ones")
	forceAccession := fs.Bool("force-accession-equal-study", false, "use the study UID as the accession number")
	fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *dataFolder == "" {
		return errors.New("--data-folder is required")
	}
	if fs.Changed("force-accession-equal-study") {
		cfg.ForceAccessionEqualStudy = *forceAccession
	}

	client, err := transport.New(transport.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	opts := []upload.Option{upload.WithRetryInterval(cfg.RetryInterval)}
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg, cfg.UploadedTopic)
		defer producer.Close()
		opts = append(opts, upload.WithNotifier(producer))
	}
	coordinator := upload.NewCoordinator(client, upload.NewCorrelationLog(), opts...)
	scheduler := bulk.New(coordinator, nil, bulk.WithWorkers(cfg.MaxWorkers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths, err := dicom.FindFiles(*dataFolder, *extension)
	if err != nil {
		return err
	}
	datasets := dicom.LoadFiles(paths)
	groups, err := dicom.GroupByField(datasets, *groupBy)
	if err != nil {
		return err
	}
	logger.Log.WithFields(logrus.Fields{
		"files":  len(paths),
		"loaded": len(datasets),
		"groups": len(groups),
	}).Info("starting upload")

	counts := map[upload.Status]int{}
	failed := false
	for _, group := range groups {
		results, err := scheduler.BulkUpload(ctx, group.Datasets, bulk.Options{
			RegenerateUIDs:           !*keepUIDs,
			GroupByStudy:             true,
			ForceAccessionEqualStudy: cfg.ForceAccessionEqualStudy,
		})
		for _, r := range results {
			if r != nil {
				counts[r.Status]++
			}
		}
		if err != nil {
			failed = true
			logger.Log.WithError(err).WithField("group", group.Key).Error("upload group did not complete")
			if errors.Is(err, context.Canceled) {
				break
			}
		}
	}

	if counts[upload.StatusFailed] > 0 {
		failed = true
	}

	log := coordinator.Log()
	mapPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("upload_map_%s.csv", time.Now().Format("20060102-150405")))
	if err := log.WriteFile(mapPath); err != nil {
		logger.Log.WithError(err).Error("failed to write upload map")
		failed = true
	}

	if cfg.PostgresEnabled {
		defer database.ClosePostgres()
		if err := persist(context.Background(), cfg, log.Entries()); err != nil {
			logger.Log.WithError(err).Error("failed to persist upload map")
			failed = true
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"accepted":   counts[upload.StatusAccepted],
		"rejected":   counts[upload.StatusRejected],
		"failed":     counts[upload.StatusFailed],
		"upload_map": mapPath,
	}).Info("upload finished")

	if failed {
		return errIncomplete
	}
	return nil
}

func persist(ctx context.Context, cfg *config.Config, entries []upload.Entry) error {
	db, err := database.GetPostgres(cfg)
	if err != nil {
		return err
	}
	repo := upload.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return fmt.Errorf("migrating upload tables: %w", err)
	}
	return repo.SaveAll(ctx, uuid.New().String(), entries)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/synaptica-ai/vision-uploader/pkg/acquisition"
	"github.com/synaptica-ai/vision-uploader/pkg/bulk"
	"github.com/synaptica-ai/vision-uploader/pkg/cloud/transport"
	"github.com/synaptica-ai/vision-uploader/pkg/common/config"
	"github.com/synaptica-ai/vision-uploader/pkg/common/database"
	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
	"github.com/synaptica-ai/vision-uploader/pkg/report"
)

func main() {
	logger.Init()
	if err := run(); err != nil {
		logger.Log.WithError(err).Fatal("vision-results failed")
	}
}

func run() error {
	fs := pflag.NewFlagSet("vision-results", pflag.ExitOnError)
	flags := config.BindFlags(fs)
	inputFile := fs.StringP("input-file", "i", "", "upload map CSV to read accession numbers from")
	accession := fs.StringP("accession-number", "a", "", "single accession number to fetch")
	listStudies := fs.Int("list-studies", 0, "fetch the first N studies known to the service")
	timeout := fs.Duration("timeout", 0, "how long a study may stay pending")
	reportDir := fs.String("report-dir", "", "write a text report per accession to this folder")
	workbook := fs.String("workbook", "", "write a summary xlsx workbook to this path")
	fs.Parse(os.Args[1:])

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if fs.Changed("timeout") {
		cfg.GetTimeout = *timeout
	}

	sources := 0
	for _, set := range []bool{*inputFile != "", *accession != "", *listStudies > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errors.New("exactly one of --input-file, --accession-number or --list-studies is required")
	}

	client, err := transport.New(transport.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	opts := []acquisition.Option{
		acquisition.WithTimeout(cfg.GetTimeout),
		acquisition.WithRetryInterval(cfg.RetryInterval),
	}
	if cfg.RedisEnabled {
		rdb, err := database.GetRedis(cfg)
		if err != nil {
			return err
		}
		defer database.CloseRedis()
		opts = append(opts, acquisition.WithCache(acquisition.NewRedisCache(rdb, cfg.ResultCacheTTL)))
	}
	acquirer := acquisition.NewAcquirer(client, opts...)
	scheduler := bulk.New(nil, acquirer, bulk.WithWorkers(cfg.MaxWorkers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var accessions []string
	switch {
	case *inputFile != "":
		if accessions, err = readAccessionsFile(*inputFile); err != nil {
			return err
		}
	case *accession != "":
		accessions = []string{*accession}
	default:
		studies, err := acquirer.ListStudies(ctx)
		if err != nil {
			return fmt.Errorf("listing studies: %w", err)
		}
		accessions = acquisition.Accessions(studies)
		if len(accessions) > *listStudies {
			accessions = accessions[:*listStudies]
		}
	}
	logger.Log.WithField("accessions", len(accessions)).Info("fetching results")

	results := scheduler.BulkGet(ctx, accessions)

	var repo *acquisition.Repository
	if cfg.PostgresEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			return err
		}
		defer database.ClosePostgres()
		repo = acquisition.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			return fmt.Errorf("migrating result tables: %w", err)
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	counts := map[acquisition.Outcome]int{}
	rows := make([]report.Row, 0, len(results))
	for _, result := range results {
		counts[result.Outcome]++
		entry := logger.WithAccession(result.Accession)

		if err := writeResult(cfg.OutputDir, result); err != nil {
			entry.WithError(err).Error("failed to write result")
		}
		if repo != nil {
			if err := repo.Save(ctx, result); err != nil {
				entry.WithError(err).Error("failed to store result")
			}
		}
		if *reportDir != "" && result.Outcome == acquisition.OutcomeComplete {
			if _, err := report.WriteTextReport(*reportDir, result); err != nil {
				entry.WithError(err).Warn("failed to write report")
			}
		}
		rows = append(rows, report.NewRow(result, *reportDir))
	}

	if *workbook != "" {
		if err := report.WriteWorkbook(*workbook, rows); err != nil {
			return err
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"complete":      counts[acquisition.OutcomeComplete],
		"service_error": counts[acquisition.OutcomeServiceError],
		"failed":        counts[acquisition.OutcomeFailed],
		"output_dir":    cfg.OutputDir,
	}).Info("results fetched")
	return nil
}

func writeResult(dir string, result acquisition.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, result.Accession+".json"), data, 0o644)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/puntosalud/vitaledger/pkg/alerting"
	"github.com/puntosalud/vitaledger/pkg/common/config"
	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/common/retry"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/remotefile"
	"github.com/puntosalud/vitaledger/pkg/transport"
)

const usage = `usage: ledgerctl <command>

commands:
  sync    run one full reconciliation pass against the remote store
  scan    run the variation analysis and notification pass
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger.Init()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	policy := retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
	opener := transport.NewOpener(transport.EndpointFromConfig(cfg), policy)
	channel := remotefile.NewChannel(opener, policy)

	paths := ledgersync.PathsFromConfig(cfg)
	store := ledger.NewStore(paths.LocalLedger)
	if err := store.EnsureExists(); err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize local ledger")
	}
	syncer := ledgersync.New(channel, store, paths, policy)

	ctx := context.Background()

	switch os.Args[1] {
	case "sync":
		result, err := syncer.Sync(ctx)
		if err != nil {
			logger.Log.WithError(err).Error("sync failed")
			os.Exit(1)
		}
		fmt.Printf("outcome=%s records=%d attachments_uploaded=%d attachments_skipped=%d conflict_retries=%d\n",
			result.Outcome, result.RecordsTotal, result.AttachmentsUploaded,
			result.AttachmentsSkipped, result.ConflictRetries)

	case "scan":
		rules, err := alerting.LoadRules(cfg.AlertRulesFile)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load alert rules")
		}
		var notifier alerting.Notifier = alerting.LogNotifier{}
		if len(cfg.KafkaBrokers) > 0 {
			notifier = alerting.NewKafkaNotifier(cfg.KafkaBrokers, cfg.AlertTopic)
		}
		defer notifier.Close()

		svc := alerting.NewService(store, alerting.NewDetector(rules), notifier, syncer)
		sent, err := svc.Run(ctx)
		if err != nil {
			logger.Log.WithError(err).Error("scan failed")
			os.Exit(1)
		}
		fmt.Printf("alerts_sent=%d\n", sent)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

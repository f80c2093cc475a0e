// Package cli implements absensctl, the operator command line for the absens services.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/your-org/absens/internal/config"
	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/queue"
	"github.com/your-org/absens/internal/storage"
)

// RootCmd assembles the absensctl command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "absensctl",
		Short: "Operate the absens missing-person matching services",
		Long: `absensctl runs maintenance tasks against the absens record store and index queue:
schema migration, index job reconciliation, manual status changes and test tokens.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "configs/config.yaml", "path to config file")

	root.AddCommand(MigrateCmd())
	root.AddCommand(JobsCmd())
	root.AddCommand(RecordsCmd())
	root.AddCommand(TokenCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// keep service logs out of command output
	observability.SetupLogger("warn", "text")
	return cfg, nil
}

// backend holds the connections a command needs. close releases whatever was opened.
type backend struct {
	store    storage.Store
	producer *queue.Producer
}

func (b *backend) close() {
	if b.producer != nil {
		b.producer.Close()
	}
	if b.store != nil {
		b.store.Close()
	}
}

// dispatcher returns the index dispatcher used for retries. Only the NATS mode can
// reach workers from outside the API process.
func (b *backend) dispatcher() (ingest.Dispatcher, error) {
	if b.producer == nil {
		return nil, fmt.Errorf("index retries need indexing.mode nats")
	}
	return ingest.NewQueueDispatcher(b.producer), nil
}

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context, cfg *config.Config, withQueue bool) (*backend, error) {
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &backend{store: store}
	if withQueue && cfg.Indexing.Mode == "nats" {
		p, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			b.close()
			return nil, err
		}
		if err := p.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		b.producer = p
	}
	return b, nil
}

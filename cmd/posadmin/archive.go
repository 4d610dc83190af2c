package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/internal/receipts"
	"github.com/spf13/cobra"
)

func archiveReceiptsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive-receipts",
		Short: "Consume sale events and keep a receipt archive in MongoDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(opts)
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("kafka.brokers is required to archive receipts")
			}

			ctx := cmd.Context()
			db, err := receipts.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
			if err != nil {
				return err
			}
			defer func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := db.Client().Disconnect(disconnectCtx); err != nil {
					log.Error().Err(err).Msg("failed to disconnect from MongoDB")
				}
			}()

			archive := receipts.NewArchive(db)
			if err := archive.CreateIndexes(ctx); err != nil {
				return fmt.Errorf("failed to create receipt indexes: %w", err)
			}

			consumer := receipts.NewConsumer(archive, cfg.Kafka.Topic, cfg.Kafka.GroupID, log, cfg.Kafka.Brokers...)
			defer consumer.Close()

			log.Info().
				Strs("brokers", cfg.Kafka.Brokers).
				Str("topic", cfg.Kafka.Topic).
				Str("database", cfg.Mongo.Database).
				Msg("receipt archiver started")
			consumer.Run(ctx)
			log.Info().Msg("receipt archiver stopped")
			return nil
		},
	}
}

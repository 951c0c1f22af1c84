// Package consolidatecmder provides the consolidate maintenance command.
package consolidatecmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/cmd/intelmem/compose"
	"github.com/justice-rest/intelmem/pkg/config"
	"github.com/justice-rest/intelmem/pkg/logger"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
)

const consolidateLongDesc string = `Merge a user's near-duplicate memories.

Clusters the user's active memories by embedding similarity and merges each
cluster into a single record, preserving provenance through derives
relations. With --dry-run, prints the clusters without changing anything.`

type ConsolidateCommander struct {
	userID    string
	threshold float64
	dryRun    bool
}

func NewConsolidateCmd() *cobra.Command {
	cmder := &ConsolidateCommander{}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge a user's near-duplicate memories",
		Long:  consolidateLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			configDir, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %v", err)
			}
			return cmder.run(configDir, debug)
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User whose memories to consolidate")
	cmd.Flags().Float64VarP(&cmder.threshold, "threshold", "t", 0, "Similarity threshold override")
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "Report clusters without merging")
	cmd.MarkFlagRequired("user")

	return cmd
}

func (c *ConsolidateCommander) run(configDir string, debug bool) error {
	v, err := config.InitViper(configDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log := logger.NewLogger(debug)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	system, err := compose.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer system.Close()

	result, err := system.Manager.Consolidate(ctx, c.userID, lifecycle.ConsolidateOptions{
		SimilarityThreshold: c.threshold,
		DryRun:              c.dryRun,
	})
	if err != nil {
		return fmt.Errorf("consolidating: %w", err)
	}

	log.Info("consolidation finished",
		zap.String("user_id", c.userID),
		zap.Bool("dry_run", c.dryRun),
		zap.Int("clusters", len(result.Clusters)),
		zap.Int("merged", len(result.Merged)),
	)
	for i, cluster := range result.Clusters {
		for _, rec := range cluster {
			fmt.Printf("cluster %d: %s  %q\n", i+1, rec.ID, rec.Text)
		}
	}
	return nil
}

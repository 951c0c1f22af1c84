// Package searchcmder provides the search command for retrieval over a
// user's memories.
package searchcmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justice-rest/intelmem/cmd/intelmem/compose"
	"github.com/justice-rest/intelmem/pkg/config"
	"github.com/justice-rest/intelmem/pkg/logger"
	"github.com/justice-rest/intelmem/pkg/memory/store"
)

const searchLongDesc string = `Search a user's memories with the agentic retrieval pipeline.

Runs the full retrieve-grade-refine loop against the configured store and
prints the final candidates with their relevance grades.

Example:
  intelmem search "what is their job" --user u-123
  intelmem search "dietary restrictions" --user u-123 --limit 5`

type searchCommander struct {
	userID string
	limit  int
}

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a user's memories",
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			configDir, err := cmd.Flags().GetString("config")
			if err != nil {
				return fmt.Errorf("could not get config flag: %v", err)
			}
			return cmder.run(configDir, debug, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User whose memories to search")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "k", 0, "Maximum number of results")
	cmd.MarkFlagRequired("user")

	return cmd
}

func (c *searchCommander) run(configDir string, debug bool, query string) error {
	v, err := config.InitViper(configDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	if c.limit > 0 {
		cfg.Pipeline.Limit = c.limit
	}

	log := logger.NewLogger(debug)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	system, err := compose.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer system.Close()

	result, err := system.Engine.Retrieve(ctx, query, c.userID, store.Filters{})
	if err != nil {
		return fmt.Errorf("retrieving: %w", err)
	}

	log.Debug("retrieval finished",
		zap.String("reason", result.CompletionReason),
		zap.Int("iterations", result.Iterations),
		zap.String("final_query", result.FinalQuery),
	)

	if len(result.Candidates) == 0 {
		fmt.Println("no matching memories")
		return nil
	}
	for i, cand := range result.Candidates {
		score := cand.Similarity
		if cand.Grade != nil {
			score = cand.Grade.Score
		}
		fmt.Printf("%2d. [%.2f] (%s/%s) %s\n", i+1, score, cand.Record.Kind, cand.Record.Tier, cand.Record.Text)
	}
	return nil
}

// Package remembercmder provides the remember command for storing a memory.
package remembercmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/justice-rest/intelmem/cmd/intelmem/compose"
	"github.com/justice-rest/intelmem/pkg/config"
	"github.com/justice-rest/intelmem/pkg/logger"
	"github.com/justice-rest/intelmem/pkg/memory"
	"github.com/justice-rest/intelmem/pkg/memory/lifecycle"
)

const rememberLongDesc string = `Store one memory for a user.

Embeds the text and writes it to the configured store, deduplicating against
near-identical existing memories. A near-duplicate becomes a new version of
the existing memory instead of a second record.

Example:
  intelmem remember "prefers morning meetings" --user u-123
  intelmem remember "is VP of Finance" --user u-123 --static --importance 0.9`

type rememberCommander struct {
	userID     string
	kind       string
	importance float64
	static     bool
	tags       []string
}

func NewRememberCmd() *cobra.Command {
	cmder := &rememberCommander{}

	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store one memory for a user",
		Long:  rememberLongDesc,
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

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User the memory belongs to")
	cmd.Flags().StringVar(&cmder.kind, "kind", "", "Memory kind: episodic, semantic, procedural, or profile")
	cmd.Flags().Float64Var(&cmder.importance, "importance", 0, "Initial importance in [0,1]")
	cmd.Flags().BoolVar(&cmder.static, "static", false, "Pin as an identity-stable memory")
	cmd.Flags().StringSliceVar(&cmder.tags, "tag", nil, "Tag to attach (repeatable)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func (c *rememberCommander) run(configDir string, debug bool, text string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	system, err := compose.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer system.Close()

	rec, err := system.Manager.Create(ctx, lifecycle.CreateInput{
		UserID:     c.userID,
		Text:       text,
		Kind:       memory.Kind(c.kind),
		IsStatic:   c.static,
		Importance: c.importance,
		Tags:       c.tags,
	})
	if err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}

	if rec.Version > 1 {
		fmt.Printf("updated %s to version %d (tier %s)\n", rec.RootID, rec.Version, rec.Tier)
	} else {
		fmt.Printf("stored %s (tier %s)\n", rec.ID, rec.Tier)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"strings"

	"canvassync/domain/core/entities"
	"canvassync/domain/core/valueobjects"
	"canvassync/infrastructure/di"

	"github.com/spf13/cobra"
)

var pullStaleOnly bool

var pullCmd = &cobra.Command{
	Use:   "pull <workspace>",
	Short: "Load a workspace graph, showing the cached copy before revalidating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
			ctrl, res, err := c.OpenWorkspace(ctx, args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()

			out := cmd.OutOrStdout()
			if res.FromCache && !jsonOutput {
				fmt.Fprintf(out, "cached: %d nodes, %d edges\n", len(ctrl.Nodes()), len(ctrl.Edges()))
			}
			if !pullStaleOnly {
				select {
				case <-res.Done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			snap := ctrl.Snapshot()
			if jsonOutput {
				return printJSON(out, snap)
			}
			for _, n := range snap.Nodes {
				fmt.Fprintf(out, "%s  %-4s (%6.0f,%6.0f)  %s\n", n.ID, n.Kind, n.Position.X, n.Position.Y, nodeTitle(n))
			}
			for _, e := range snap.Edges {
				fmt.Fprintf(out, "%s  %s -> %s\n", e.ID, e.SourceNodeID, e.TargetNodeID)
			}
			return nil
		})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <workspace> <text>",
	Short: "Add a text note below the existing nodes",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
			ctrl, res, err := c.OpenWorkspace(ctx, args[0])
			if err != nil {
				return err
			}
			defer ctrl.Close()
			<-res.Done

			pos := belowLowest(ctrl.Nodes(), c.Rules.FollowUpOffsetY)
			node, pending, err := ctrl.CreateTextNode(ctx, pos, entities.TextContent{Text: text})
			if err != nil {
				return err
			}
			serverID, err := pending.Wait(ctx)
			if err != nil {
				return fmt.Errorf("save note %s: %w", node.ID, err)
			}
			ctrl.Wait()

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"id": serverID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), serverID)
			return nil
		})
	},
}

func init() {
	pullCmd.Flags().BoolVar(&pullStaleOnly, "stale", false, "Print the cached graph without waiting for revalidation")
}

func belowLowest(nodes []entities.Node, gap float64) valueobjects.Position {
	if len(nodes) == 0 {
		return valueobjects.NewPosition(0, 0)
	}
	lowest := nodes[0].Position
	for _, n := range nodes[1:] {
		if n.Position.Y > lowest.Y {
			lowest = n.Position
		}
	}
	return lowest.Offset(0, gap)
}

func nodeTitle(n entities.Node) string {
	switch {
	case n.Chat != nil && n.Chat.SummaryQuestion != "":
		return n.Chat.SummaryQuestion
	case n.Chat != nil:
		return n.Chat.FullQuestion
	case n.Text != nil:
		return n.Text.Text
	}
	return ""
}

package main

import (
	"context"
	"fmt"
	"strings"

	"canvassync/domain/events"
	"canvassync/infrastructure/di"

	"github.com/spf13/cobra"
)

var askWorkspace string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question on a workspace and stream the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
			ctrl, res, err := c.OpenWorkspace(ctx, askWorkspace)
			if err != nil {
				return err
			}
			defer ctrl.Close()
			<-res.Done

			out := cmd.OutOrStdout()
			printed := 0
			if !jsonOutput {
				unsubscribe := c.EventBus.Subscribe(events.TypeAnswerProgress, func(_ context.Context, evt events.DomainEvent) error {
					p, ok := evt.(events.AnswerProgress)
					if !ok || len(p.Prose) <= printed {
						return nil
					}
					fmt.Fprint(out, p.Prose[printed:])
					printed = len(p.Prose)
					return nil
				})
				defer unsubscribe()
			}

			node, result, err := c.Answers.Ask(ctx, ctrl, question)
			if err != nil {
				return err
			}
			ctrl.Wait()

			if jsonOutput {
				return printJSON(out, node)
			}
			fmt.Fprintf(out, "\n\n%s\n  %s\n", result.Summary.SummaryQuestion, result.Summary.SummaryAnswer)
			return nil
		})
	},
}

func init() {
	askCmd.Flags().StringVarP(&askWorkspace, "workspace", "w", "scratch", "Workspace to place the question on")
}

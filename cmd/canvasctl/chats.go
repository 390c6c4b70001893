package main

import (
	"context"
	"fmt"

	"canvassync/application/ports"
	"canvassync/infrastructure/di"

	"github.com/spf13/cobra"
)

var (
	chatsLimit int
	chatsAfter string
)

var chatsCmd = &cobra.Command{
	Use:   "chats [user]",
	Short: "List a user's chats, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
			user := c.Config.UserID
			if len(args) == 1 {
				user = args[0]
			}
			if user == "" {
				return fmt.Errorf("no user given and none configured")
			}

			page, err := c.Lists.ListChats(ctx, ports.ListChatsQuery{
				UserID:        user,
				Limit:         chatsLimit,
				StartingAfter: chatsAfter,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, page)
			}
			for _, chat := range page.Chats {
				fmt.Fprintf(out, "%s  %s  %s\n", chat.ID, chat.CreatedAt.Format("2006-01-02 15:04"), chat.Title)
			}
			if page.HasMore && len(page.Chats) > 0 {
				fmt.Fprintf(out, "more: --after %s\n", page.Chats[len(page.Chats)-1].ID)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat>",
	Short: "Print a chat transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
			msgs, err := c.Conversations.Messages(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, msgs)
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Content)
			}
			return nil
		})
	},
}

func init() {
	chatsCmd.Flags().IntVar(&chatsLimit, "limit", 20, "Page size")
	chatsCmd.Flags().StringVar(&chatsAfter, "after", "", "Continue after this chat id")
}

// Eatly command-line client.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/eatly-ai/eatly/internal/assistant"
	"github.com/eatly-ai/eatly/internal/clientapi"
	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/session"
	"github.com/eatly-ai/eatly/internal/tui"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eatly",
		Short:         "Restaurant assistant client",
		Long:          "Eatly provisions restaurant assistants and chats with them through an eatly server.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	server := os.Getenv("EATLY_SERVER_URL")
	if server == "" {
		server = defaultServerURL
	}
	rootCmd.PersistentFlags().String("server", server, "eatly server URL (env EATLY_SERVER_URL)")
	rootCmd.PersistentFlags().Duration("timeout", 3*time.Minute, "maximum time to wait for a reply")

	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newInstructionsCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newHealthCommand())
	return rootCmd
}

func newClient(cmd *cobra.Command) (*clientapi.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	return clientapi.New(server, nil)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

func addProfileFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("name", "n", "", "restaurant display name (required)")
	cmd.Flags().StringP("category", "c", "", "cuisine or category (required)")
	cmd.Flags().String("highlights", "", "free-text highlights such as hours or specials")
	cmd.Flags().String("link", "", "reference link such as the restaurant website")
}

func profileFromFlags(cmd *cobra.Command) domain.AgentProfile {
	name, _ := cmd.Flags().GetString("name")
	category, _ := cmd.Flags().GetString("category")
	highlights, _ := cmd.Flags().GetString("highlights")
	link, _ := cmd.Flags().GetString("link")
	return domain.AgentProfile{
		DisplayName:   name,
		Category:      category,
		Highlights:    highlights,
		ReferenceLink: link,
	}
}

func newProvisionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create an assistant for a restaurant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := profileFromFlags(cmd)
			if err := assistant.Validate(profile.Normalized()); err != nil {
				return err
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			agentID, err := client.CreateAgent(ctx, profile)
			if err != nil {
				return fmt.Errorf("failed to create assistant: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created assistant %s\n", agentID)
			return nil
		},
	}
	addProfileFlags(cmd)
	return cmd
}

func newInstructionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Print the assistant instructions generated for a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := profileFromFlags(cmd).Normalized()
			if err := assistant.Validate(profile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.Instructions(profile))
			return nil
		},
	}
	addProfileFlags(cmd)
	return cmd
}

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <agent-id> <utterance>",
		Short: "Send one utterance and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			res, err := client.Send(ctx, conversation.TurnRequest{
				AgentID:        args[0],
				ConversationID: conversationID,
				Utterance:      args[1],
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Reply)
			fmt.Fprintf(out, "\nconversation: %s\n", res.ConversationID)
			return nil
		},
	}
	cmd.Flags().String("conversation", "", "continue an existing conversation")
	return cmd
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <agent-id>",
		Short: "Open an interactive chat with an assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conversationID, _ := cmd.Flags().GetString("conversation")
			title, _ := cmd.Flags().GetString("title")

			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			var chat *session.Client
			if conversationID != "" {
				chat = session.Resume(client, &domain.Session{AgentID: args[0], ConversationID: conversationID})
			} else {
				chat = session.NewClient(client, args[0])
			}

			if title == "" {
				title = "Chat with " + args[0]
			}
			p := tea.NewProgram(tui.NewChat(cmd.Context(), chat, title), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().String("conversation", "", "continue an existing conversation")
	cmd.Flags().String("title", "", "header shown above the transcript")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			h, err := client.Health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nstore: %s (%s)\nprovider configured: %t\n",
				h.Status, h.StoreBackend, h.Store, h.ProviderConfigured)
			return nil
		},
	}
}

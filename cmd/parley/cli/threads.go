package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/parley/internal/conversation"
	"github.com/felixgeelhaar/parley/internal/session"
	"github.com/felixgeelhaar/parley/internal/store"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List, show and create conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your threads, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		threads, err := s.ListThreads(cmd.Context(), user)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(threads) == 0 {
			fmt.Fprintln(out, "(no threads)")
			return nil
		}
		for _, th := range threads {
			fmt.Fprintf(out, "%s\t%d messages\t%s\t%s\n",
				th.ID, th.MessageCount, th.UpdatedAt.Local().Format("2006-01-02 15:04"), firstLine(th.Summary, 60))
		}
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show [thread-id]",
	Short: "Print a thread's summary and transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		st, err := s.LoadState(cmd.Context(), user, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if st.Summary != "" {
			fmt.Fprintf(out, "Summary (through message %d): %s\n\n", st.SummarizedThrough, st.Summary)
		}
		for _, m := range st.Messages {
			label := "You"
			if m.Role == conversation.RoleAssistant {
				label = "Assistant"
			}
			fmt.Fprintf(out, "[%d] %s: %s\n", m.Position, label, m.Content)
		}
		return nil
	},
}

var threadsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an empty thread and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := resolveUser()
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		now := time.Now().UTC()
		th := &store.Thread{ID: session.NewThreadID(user, now), UserID: user, CreatedAt: now}
		if err := s.CreateThread(cmd.Context(), th); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), th.ID)
		return nil
	},
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

func init() {
	RootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
	threadsCmd.AddCommand(threadsNewCmd)
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/parley/internal/conversation"
	"github.com/felixgeelhaar/parley/internal/store"
	"github.com/felixgeelhaar/parley/internal/ui"
	"github.com/felixgeelhaar/parley/internal/ui/tui"
)

var (
	chatThread      string
	chatNew         bool
	chatInteractive bool
	chatWeb         bool
	chatNoRerank    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat on a thread",
	Long: `Without a message, chat reads lines from stdin until EOF or /quit.
With a message, it runs a single turn and prints the reply.
Use -i for the full-screen interface.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	logOut := cmd.ErrOrStderr()
	if chatInteractive {
		f, err := openLogFile()
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	obs := newObserver(logOut)

	var progress ui.UI = ui.LineUI{W: cmd.ErrOrStderr()}
	if chatInteractive {
		progress = ui.SilentUI{}
	}
	env, err := openEnvironment(obs, progress)
	if err != nil {
		return err
	}
	defer env.Close()

	if cmd.Flags().Changed("web") {
		env.session.Options.WebSearch = chatWeb
	}
	if chatNoRerank {
		env.session.Options.Rerank = false
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	threadID, err := pickThread(ctx, env, chatThread, chatNew)
	if err != nil {
		return err
	}

	switch {
	case chatInteractive:
		return runTUI(ctx, env, threadID)
	case len(args) > 0:
		res, err := env.runner.Turn(ctx, env.session, threadID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Reply.Content)
		return nil
	default:
		return repl(ctx, env, threadID, cmd.InOrStdin(), cmd.OutOrStdout())
	}
}

// pickThread resolves the thread to chat on: the given id, a fresh one,
// or the user's most recent thread.
func pickThread(ctx context.Context, env *environment, id string, fresh bool) (string, error) {
	if id != "" {
		return id, nil
	}
	ctrl := env.runner.Controller
	if !fresh {
		threads, err := ctrl.Threads(ctx, env.session)
		if err != nil {
			return "", err
		}
		if len(threads) > 0 {
			return threads[0].ID, nil
		}
	}
	th, err := ctrl.NewThread(ctx, env.session)
	if err != nil {
		return "", err
	}
	return th.ID, nil
}

func history(ctx context.Context, env *environment, threadID string) ([]conversation.Message, error) {
	st, err := env.runner.Controller.Resume(ctx, env.session, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

func repl(ctx context.Context, env *environment, threadID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "thread %s (web search %s). /web toggles, /quit exits.\n", threadID, onOff(env.session.Options.WebSearch))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/web":
			env.session.Options.WebSearch = !env.session.Options.WebSearch
			fmt.Fprintf(out, "web search %s\n", onOff(env.session.Options.WebSearch))
			continue
		}

		res, err := env.runner.Turn(ctx, env.session, threadID, line)
		if err != nil {
			// The thread keeps its last checkpoint; the user can retry.
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, res.Reply.Content)
	}
}

func runTUI(ctx context.Context, env *environment, threadID string) error {
	msgs, err := history(ctx, env, threadID)
	if err != nil {
		return err
	}

	model := tui.NewModel("parley", threadID, msgs, func(ctx context.Context, text string) (string, error) {
		res, err := env.runner.Turn(ctx, env.session, threadID, text)
		if err != nil {
			return "", err
		}
		return res.Reply.Content, nil
	})
	model.SetWebToggle(env.session.Options.WebSearch, func() bool {
		env.session.Options.WebSearch = !env.session.Options.WebSearch
		return env.session.Options.WebSearch
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	ui.Attach(env.runner.Bus, tui.NewTUI(program))

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("interface failed: %w", err)
	}
	return nil
}

func openLogFile() (*os.File, error) {
	dir := filepath.Dir(resolveDBPath())
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "parley.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func init() {
	RootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatThread, "thread", "t", "", "Thread id to continue")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a new thread")
	chatCmd.Flags().BoolVarP(&chatInteractive, "interactive", "i", false, "Start interactive TUI")
	chatCmd.Flags().BoolVar(&chatWeb, "web", false, "Enable web search (default from profile)")
	chatCmd.Flags().BoolVar(&chatNoRerank, "no-rerank", false, "Return raw search results instead of the closest matches")
}

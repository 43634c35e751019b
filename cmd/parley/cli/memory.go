package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/parley/internal/memstore"
	"github.com/felixgeelhaar/parley/internal/tools"
)

var (
	memoryLimit int
	memoryID    string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit what the assistant remembers about you",
}

// callTool runs a registered tool directly, the same way the agent would.
func callTool(ctx context.Context, env *environment, name string, args map[string]any) (any, error) {
	tool, ok := env.runner.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %s is not registered", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return tool.Call(ctx, env.session, raw)
}

func withEnvironment(cmd *cobra.Command, fn func(env *environment) error) error {
	env, err := openEnvironment(newObserver(cmd.ErrOrStderr()), nil)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories by meaning",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnvironment(cmd, func(env *environment) error {
			res, err := callTool(cmd.Context(), env, "search_memory", map[string]any{
				"query": strings.Join(args, " "),
				"limit": memoryLimit,
			})
			if err != nil {
				return err
			}
			hits, _ := res.([]tools.MemoryHit)
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(no memories)")
			}
			for _, h := range hits {
				fmt.Fprintf(cmd.OutOrStdout(), "%.3f\t%s\t%s\n", h.Score, h.ID, h.Content)
			}
			return nil
		})
	},
}

var memoryRememberCmd = &cobra.Command{
	Use:   "remember [fact]",
	Short: "Store a memory; --id replaces an existing one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnvironment(cmd, func(env *environment) error {
			callArgs := map[string]any{"content": strings.Join(args, " ")}
			if memoryID != "" {
				callArgs["action"] = "update"
				callArgs["id"] = memoryID
			}
			res, err := callTool(cmd.Context(), env, "manage_memory", callArgs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnvironment(cmd, func(env *environment) error {
			res, err := callTool(cmd.Context(), env, "manage_memory", map[string]any{
				"action": "delete",
				"id":     args[0],
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, or archived search results with --web",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		web, _ := cmd.Flags().GetBool("web")
		return withEnvironment(cmd, func(env *environment) error {
			ns := memstore.Namespace{Kind: memstore.KindMemory, UserID: env.session.UserID}
			if web {
				ns.Kind = memstore.KindWebSearch
			}
			records, err := env.runner.Memory.List(cmd.Context(), ns)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Key, r.UpdatedAt.Local().Format("2006-01-02 15:04"), firstLine(r.Text, 80))
			}
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryRememberCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
	memoryCmd.AddCommand(memoryListCmd)
	memorySearchCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 5, "Maximum number of memories")
	memoryRememberCmd.Flags().StringVar(&memoryID, "id", "", "Id of the memory to replace")
	memoryListCmd.Flags().Bool("web", false, "List archived web search results instead")
}

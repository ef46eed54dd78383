package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raidline/internal/app"
	"raidline/internal/config"
	"raidline/internal/repo"
	raidlinesdk "raidline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "raidline",
	Short: "Raidline CLI",
	Long: `Raidline runs time-boxed raid signups for chat communities.
- Raid: a leader opens signup on an area; participants react to sign up, capped reactions need a private confirmation.
- Phases: signup -> grace (late joiners may still be moved in) -> active -> closed; timers advance them on their own.
- Headcount: a lightweight poll that only collects reactions and posts a summary.
- Credits: completed raids credit the leader, everyone present and holders of credited signals.
- Journal: every stored change is recorded, view it with 'raidline log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RAIDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/raidline.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "participant running control actions")
	flags.String("api-url", "http://127.0.0.1:8080/v0", "control API base URL")
	flags.String("api-key", "", "control API key")
	flags.String("token", "", "control API bearer token")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "api-url", "api-key", "token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(creditsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOrDefault(viper.GetString("workspace"))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, r, err := app.OpenStore(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, r)
}

func apiClient() *raidlinesdk.Client {
	c := raidlinesdk.New(viper.GetString("api-url"))
	c.APIKey = viper.GetString("api-key")
	c.BearerToken = viper.GetString("token")
	return c
}

func actorID() (string, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return "", fmt.Errorf("--actor-id (or RAIDLINE_ACTOR_ID) is required")
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

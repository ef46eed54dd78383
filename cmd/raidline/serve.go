package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raidline/internal/app"
	"raidline/internal/config"
	"raidline/internal/db"
	"raidline/internal/migrate"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, its database and a default raidline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists, keeping it\n", path)
			} else if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			} else {
				fmt.Printf("wrote %s\n", path)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("database %s at schema version %d\n", db.Path(workspace), version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing raidline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect raidline.yml",
		Long:  "Config holds phase durations, signal kinds with their caps, dungeons, admin roles and the bridge endpoint.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return showConfig(os.Stdout, c, viper.GetBool("json"))
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath, logLevel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if strings.TrimSpace(cfg.Bridge.URL) == "" {
				return fmt.Errorf("bridge.url is required to serve")
			}
			if secret := viper.GetString("bridge-secret"); secret != "" {
				cfg.Bridge.Secret = secret
			}
			log := app.NewLogger(cfg.Log)
			jwtSecret := viper.GetString("jwt-secret")
			if jwtSecret == "" {
				log.Warn("RAIDLINE_JWT_SECRET is not set, only API keys are accepted")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()
			if _, err := rt.Resume(ctx); err != nil {
				return err
			}
			handler, err := rt.Handler(jwtSecret)
			if err != nil {
				return err
			}
			fmt.Printf("Serving raidline API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			return rt.Serve(ctx, cfg.Server.Addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")
	return cmd
}

// showConfig writes c as JSON or as one table per section.
func showConfig(w io.Writer, c *config.Config, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}

	settings := table.NewWriter()
	settings.SetTitle("Settings")
	settings.AppendHeader(table.Row{"Key", "Value"})
	settings.AppendRows([]table.Row{
		{"raid.signup_duration", c.Raid.SignupDuration},
		{"raid.headcount_duration", c.Raid.HeadcountDuration},
		{"raid.tick_interval", c.Raid.TickInterval},
		{"raid.confirm_timeout", c.Raid.ConfirmTimeout},
		{"raid.persist_retry", c.Raid.PersistRetry},
		{"raid.area_ceiling", c.Raid.AreaCeiling},
		{"raid.admission_signal", c.Raid.AdmissionSignal},
		{"raid.grace.base", c.Raid.Grace.Base},
		{"raid.grace.step", c.Raid.Grace.Step},
		{"auth.admin_roles", strings.Join(c.Auth.AdminRoles, ", ")},
		{"bridge.url", c.Bridge.URL},
		{"bridge.timeout", c.Bridge.Timeout},
		{"server.addr", c.Server.Addr},
		{"server.base_path", c.Server.BasePath},
		{"log.level", c.Log.Level},
		{"log.format", c.Log.Format},
	})
	fmt.Fprintln(w, settings.Render())

	signals := table.NewWriter()
	signals.SetTitle("Signals")
	signals.AppendHeader(table.Row{"Kind", "Label", "Cap", "High demand cap", "Early access", "Reveals location", "Credit"})
	for _, kind := range sortedKeys(c.Signals) {
		s := c.Signals[kind]
		signals.AppendRow(table.Row{kind, s.Label, s.Cap, s.HighDemandCap, s.EarlyAccess, s.RevealsLocation, s.CreditCategory})
	}
	fmt.Fprintln(w, signals.Render())

	dungeons := table.NewWriter()
	dungeons.SetTitle("Dungeons")
	dungeons.AppendHeader(table.Row{"Dungeon", "Name", "Category", "High demand", "Signals"})
	for _, id := range sortedKeys(c.Dungeons) {
		d := c.Dungeons[id]
		dungeons.AppendRow(table.Row{id, d.Name, d.Category, d.HighDemand, strings.Join(d.Signals, ", ")})
	}
	fmt.Fprintln(w, dungeons.Render())
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

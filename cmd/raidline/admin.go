package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raidline/internal/domain"
	"raidline/internal/repo"
	"raidline/internal/server"
)

func creditsCmd() *cobra.Command {
	var guild, participant string
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show participation credits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCredits(ctx, guild, participant)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Participant", "Category", "Count", "Updated"})
				total := 0
				for _, c := range items {
					tw.AppendRow(table.Row{c.ParticipantID, c.Category, c.Count, c.UpdatedAt})
					total += c.Count
				}
				tw.AppendFooter(table.Row{"", "Total", total, ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&participant, "participant", "", "participant filter")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Read the journal",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var guild, evtType string
	var after int64
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListJournal(ctx, guild, after, 1000)
				if err != nil {
					return err
				}
				var out []domain.JournalEntry
				for _, e := range entries {
					if evtType == "" || e.Type == evtType {
						out = append(out, e)
					}
				}
				if n > 0 && len(out) > n {
					out = out[len(out)-n:]
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"ID", "Time", "Type", "Event", "Actor", "Payload"})
				for _, e := range out {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EventID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&evtType, "type", "", "entry type filter")
	cmd.Flags().Int64Var(&after, "after", 0, "only entries after this id")
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Manage guild roles",
		Long:  "Holders of a role listed in auth.admin_roles may end, abort and relocate any event of the guild.",
	}
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacListCmd())
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var guild, participant, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" || participant == "" || role == "" {
				return fmt.Errorf("--guild, --participant and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.GrantRole(ctx, domain.RoleGrant{GuildID: guild, ParticipantID: participant, Role: role}, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var guild, participant, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" || participant == "" || role == "" {
				return fmt.Errorf("--guild, --participant and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.RevokeRole(ctx, guild, participant, role, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func rbacListCmd() *cobra.Command {
	var guild string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			if guild == "" {
				return fmt.Errorf("--guild is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRoleGrants(ctx, guild)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Participant", "Role", "Granted"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ParticipantID, g.Role, g.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage control API keys",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "rl_" + hex.EncodeToString(raw)
			key := domain.APIKey{ID: uuid.NewString(), ActorID: owner, Name: name, KeyHash: repo.HashAPIKey(secret)}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "owner": owner, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "principal the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Owner", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with RAIDLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("RAIDLINE_JWT_SECRET is required")
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			token, err := server.SignToken(secret, subject, perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "principal id")
	cmd.Flags().StringSliceVar(&perms, "perm", []string{server.PermEventsRead, server.PermEventsWrite, server.PermBridge},
		"permissions ("+strings.Join([]string{server.PermEventsRead, server.PermEventsWrite, server.PermBridge, server.PermRoles}, ", ")+")")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raidline/internal/domain"
	"raidline/internal/repo"
	raidlinesdk "raidline/sdk/go"
)

func eventsCmd() *cobra.Command {
	events := &cobra.Command{
		Use:   "events",
		Short: "Inspect stored event records",
		Long:  "Reads the workspace database directly; works while the server is down.",
	}
	events.AddCommand(eventsListCmd())
	events.AddCommand(eventsShowCmd())
	return events
}

func eventsListCmd() *cobra.Command {
	var guild string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				guilds := []string{guild}
				if guild == "" {
					var err error
					if guilds, err = r.ListOpenGuilds(ctx); err != nil {
						return err
					}
				}
				var recs []domain.EventRecord
				for _, g := range guilds {
					items, err := r.ListEventRecords(ctx, g)
					if err != nil {
						return err
					}
					recs = append(recs, items...)
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := newTable(table.Row{"Guild", "ID", "Kind", "Phase", "Dungeon", "Leader", "Phase ends"})
				for _, rec := range recs {
					tw.AppendRow(table.Row{rec.GuildID, rec.ID, rec.Kind, rec.Phase, rec.Dungeon, rec.StartedBy, formatTime(rec.Deadline())})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id (default: every guild with open events)")
	return cmd
}

func eventsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <guild-id> <event-id>",
		Short: "Show one stored event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetEventRecord(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("Event: %s (%s, %s)\n", rec.ID, rec.Kind, rec.Dungeon)
				fmt.Printf("Phase: %s, ends %s\n", rec.Phase, formatTime(rec.Deadline()))
				fmt.Printf("Leader: %s\n", rec.StartedBy)
				if rec.Location != "" {
					fmt.Printf("Location: %s\n", rec.Location)
				}
				tw := newTable(table.Row{"Signal", "Cap", "Holders"})
				for kind, limit := range rec.SignalCaps {
					tw.AppendRow(table.Row{kind, limit, strings.Join(rec.Holders(kind), ", ")})
				}
				tw.SortBy([]table.SortBy{{Name: "Signal", Mode: table.Asc}})
				tw.Render()
				if len(rec.Participants) > 0 {
					fmt.Printf("Participants: %s\n", strings.Join(rec.Participants, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func eventCmd() *cobra.Command {
	event := &cobra.Command{
		Use:   "event",
		Short: "Run control actions through the control API",
		Long:  "These commands talk to a running 'raidline serve'; set --api-url and --api-key (or RAIDLINE_API_URL and RAIDLINE_API_KEY).",
	}
	event.AddCommand(eventRaidCmd())
	event.AddCommand(eventHeadcountCmd())
	event.AddCommand(eventControlCmd("end", "End the current phase early", (*raidlinesdk.Client).End))
	event.AddCommand(eventControlCmd("abort", "Abort the event without credits", (*raidlinesdk.Client).Abort))
	event.AddCommand(eventLocationCmd())
	event.AddCommand(eventRosterCmd())
	return event
}

func eventRaidCmd() *cobra.Command {
	var guild string
	var req raidlinesdk.StartRaid
	cmd := &cobra.Command{
		Use:   "raid",
		Short: "Open signup for a raid",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.LeaderID == "" {
				req.LeaderID = viper.GetString("actor-id")
			}
			ev, err := apiClient().StartRaid(cmd.Context(), guild, req)
			if err != nil {
				return err
			}
			return printEvent(ev)
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&req.AreaID, "area", "", "area id")
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "signup channel id")
	cmd.Flags().StringVar(&req.ControlChannelID, "control-channel", "", "control channel id")
	cmd.Flags().StringVar(&req.LeaderID, "leader", "", "leader id (default --actor-id)")
	cmd.Flags().StringVar(&req.Dungeon, "dungeon", "", "dungeon")
	cmd.Flags().StringVar(&req.Location, "location", "", "location revealed to confirmed participants")
	cmd.Flags().StringVar(&req.SectionID, "section", "", "section id")
	cmd.Flags().StringSliceVar(&req.Deny, "deny", nil, "signal kinds to leave off")
	return cmd
}

func eventHeadcountCmd() *cobra.Command {
	var guild string
	var req raidlinesdk.StartHeadcount
	cmd := &cobra.Command{
		Use:   "headcount",
		Short: "Post a headcount",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.LeaderID == "" {
				req.LeaderID = viper.GetString("actor-id")
			}
			ev, err := apiClient().StartHeadcount(cmd.Context(), guild, req)
			if err != nil {
				return err
			}
			return printEvent(ev)
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&req.ControlChannelID, "control-channel", "", "control channel id")
	cmd.Flags().StringVar(&req.LeaderID, "leader", "", "leader id (default --actor-id)")
	cmd.Flags().StringVar(&req.Dungeon, "dungeon", "", "dungeon")
	cmd.Flags().StringVar(&req.SectionID, "section", "", "section id")
	return cmd
}

type controlFunc func(c *raidlinesdk.Client, ctx context.Context, guildID, eventID, actorID string) (raidlinesdk.ControlResult, error)

func eventControlCmd(name, short string, run controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <guild-id> <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			res, err := run(apiClient(), cmd.Context(), args[0], args[1], actor)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if res.Closed || res.Event == nil {
				fmt.Printf("%s closed\n", args[1])
				return nil
			}
			fmt.Printf("%s is now in %s, ends %s\n", res.Event.ID, res.Event.Phase, formatTime(res.Event.Deadline()))
			return nil
		},
	}
}

func eventLocationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "location <guild-id> <event-id> <location>",
		Short: "Change the location and resend it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			ev, err := apiClient().ChangeLocation(cmd.Context(), args[0], args[1], actor, args[2])
			if err != nil {
				return err
			}
			return printEvent(ev)
		},
	}
}

func eventRosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster <guild-id> <event-id>",
		Short: "Show reactions and confirmed signals",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := apiClient().Roster(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(roster)
			}
			tw := newTable(table.Row{"Kind", "Reacted", "Confirmed"})
			for kind, ids := range roster.Reactions {
				tw.AppendRow(table.Row{kind, strings.Join(ids, ", "), strings.Join(roster.Signals[kind], ", ")})
			}
			for kind, ids := range roster.Signals {
				if _, ok := roster.Reactions[kind]; !ok {
					tw.AppendRow(table.Row{kind, "", strings.Join(ids, ", ")})
				}
			}
			tw.SortBy([]table.SortBy{{Name: "Kind", Mode: table.Asc}})
			tw.Render()
			return nil
		},
	}
}

func printEvent(ev raidlinesdk.Event) error {
	if viper.GetBool("json") {
		return printJSON(ev)
	}
	fmt.Printf("%s %s (%s) in %s, ends %s\n", ev.Kind, ev.ID, ev.Dungeon, ev.Phase, formatTime(ev.Deadline()))
	return nil
}

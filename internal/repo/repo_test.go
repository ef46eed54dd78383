package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"raidline/internal/db"
	"raidline/internal/domain"
	"raidline/internal/migrate"
	"raidline/internal/repo"
)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	return testEnv{Repo: r, Ctx: ctx}
}

func sampleRecord(guild, id string) domain.EventRecord {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return domain.EventRecord{
		ID:             id,
		GuildID:        guild,
		Kind:           domain.KindRaid,
		Phase:          domain.PhaseSignup,
		Dungeon:        "void",
		StartedBy:      "leader",
		StartedAt:      start,
		PhaseStartedAt: start,
		PhaseDuration:  5 * time.Minute,
		SignalCaps:     map[string]int{"key": 1},
		Signals:        []domain.Signal{{Kind: "key", ParticipantID: "u1", AcceptedAt: start}},
		MessageRef:     domain.MessageRef{ChannelID: "c1", MessageID: "m1"},
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	env := newTestEnv(t)
	v, err := migrate.Migrate(env.Ctx, env.Repo.DB)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected schema version 3, got %d", v)
	}
}

func TestEventRecordRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	rec := sampleRecord("g1", "area-1")
	if err := env.Repo.UpsertEventRecord(env.Ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := env.Repo.GetEventRecord(env.Ctx, "g1", "area-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Deadline() != rec.Deadline() || got.CountSignals("key") != 1 || got.MessageRef != rec.MessageRef {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec.Phase = domain.PhaseGrace
	if err := env.Repo.UpsertEventRecord(env.Ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	open, err := env.Repo.ListOpenEventRecords(env.Ctx, "g1")
	if err != nil || len(open) != 1 || open[0].Phase != domain.PhaseGrace {
		t.Fatalf("list open: %v %+v", err, open)
	}

	if _, err := env.Repo.GetEventRecord(env.Ctx, "g2", "area-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for other guild, got %v", err)
	}
}

func TestDeleteEventRecordIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Repo.UpsertEventRecord(env.Ctx, sampleRecord("g1", "area-1")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := env.Repo.DeleteEventRecord(env.Ctx, "g1", "area-1"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if _, err := env.Repo.GetEventRecord(env.Ctx, "g1", "area-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	entries, err := env.Repo.ListJournal(env.Ctx, "g1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[1].Type != "event.deleted" {
		t.Fatalf("unexpected journal: %+v", entries)
	}
}

func TestOpenGuildsAndPurge(t *testing.T) {
	env := newTestEnv(t)
	closed := sampleRecord("g1", "area-1")
	closed.Phase = domain.PhaseClosed
	closed.Outcome = domain.OutcomeCompleted
	for _, rec := range []domain.EventRecord{closed, sampleRecord("g2", "area-2"), sampleRecord("g3", "area-3")} {
		if err := env.Repo.UpsertEventRecord(env.Ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	guilds, err := env.Repo.ListOpenGuilds(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(guilds) != 2 || guilds[0] != "g2" || guilds[1] != "g3" {
		t.Fatalf("unexpected guilds: %v", guilds)
	}
	n, err := env.Repo.PurgeClosedEventRecords(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge: %d %v", n, err)
	}
	all, err := env.Repo.ListEventRecords(env.Ctx, "g1")
	if err != nil || len(all) != 0 {
		t.Fatalf("closed record survived purge: %v %+v", err, all)
	}
}

func TestCreditGrantsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	grant := domain.CreditGrant{GuildID: "g1", EventID: "area-1", ParticipantID: "u1", Category: "void"}
	applied, err := env.Repo.IncrementParticipationCredit(env.Ctx, grant)
	if err != nil || !applied {
		t.Fatalf("first grant: %v %v", applied, err)
	}
	applied, err = env.Repo.IncrementParticipationCredit(env.Ctx, grant)
	if err != nil || applied {
		t.Fatalf("replayed grant should be ignored: %v %v", applied, err)
	}
	grant.RunID = "run-2"
	applied, err = env.Repo.IncrementParticipationCredit(env.Ctx, grant)
	if err != nil || !applied {
		t.Fatalf("grant for a later run in the same area: %v %v", applied, err)
	}
	credits, err := env.Repo.ListCredits(env.Ctx, "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(credits) != 1 || credits[0].Count != 2 || credits[0].Category != "void" {
		t.Fatalf("unexpected credits: %+v", credits)
	}
	if _, err := env.Repo.IncrementParticipationCredit(env.Ctx, domain.CreditGrant{GuildID: "g1"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRoleGrants(t *testing.T) {
	env := newTestEnv(t)
	g := domain.RoleGrant{GuildID: "g1", ParticipantID: "u1", Role: "admin"}
	if err := env.Repo.GrantRole(env.Ctx, g, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.GrantRole(env.Ctx, g, "owner"); err != nil {
		t.Fatalf("regrant should be a no-op: %v", err)
	}
	roles, err := env.Repo.ParticipantRoles(env.Ctx, "g1", "u1")
	if err != nil || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("roles: %v %v", roles, err)
	}
	if err := env.Repo.RevokeRole(env.Ctx, "g1", "u1", "admin", "owner"); err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.RevokeRole(env.Ctx, "g1", "u1", "admin", "owner"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	grants, err := env.Repo.ListRoleGrants(env.Ctx, "g1")
	if err != nil || len(grants) != 0 {
		t.Fatalf("grants: %v %v", grants, err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	hash := repo.HashAPIKey(" secret ")
	if hash != repo.HashAPIKey("secret") {
		t.Fatalf("hash should ignore surrounding whitespace")
	}
	if err := env.Repo.InsertAPIKey(env.Ctx, domain.APIKey{ID: "k1", ActorID: "bridge", KeyHash: hash}); err != nil {
		t.Fatal(err)
	}
	key, err := env.Repo.GetAPIKeyByHash(env.Ctx, hash)
	if err != nil || key.ActorID != "bridge" {
		t.Fatalf("get key: %+v %v", key, err)
	}
	keys, err := env.Repo.ListAPIKeys(env.Ctx, "bridge")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v %v", keys, err)
	}
	if err := env.Repo.DeleteAPIKey(env.Ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Repo.GetAPIKeyByHash(env.Ctx, hash); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

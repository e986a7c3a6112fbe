package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"starforge/internal/config"
	"starforge/internal/db"
	"starforge/internal/engine"
	"starforge/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("gal-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitGalaxy(ctx, "gal-1", "test", "maintainer", "maintainer"); err != nil {
		t.Fatalf("init galaxy: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) seedStakeholder(t *testing.T, id string, sunshines float64) {
	t.Helper()
	if _, err := env.Engine.EnsureStakeholder(env.Ctx, id, id, "user"); err != nil {
		t.Fatalf("ensure %s: %v", id, err)
	}
	if sunshines > 0 {
		if err := env.Engine.Repo.IncrementStakeholderBalance(env.Ctx, id, "sunshines", sunshines); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestForgeIssueThreeWaySplit(t *testing.T) {
	env := newTestEnv(t)
	env.seedStakeholder(t, "alice", 0)
	env.seedStakeholder(t, "bob", 0)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID:      "gal-1",
		Title:         "fix crash",
		AuthorID:      "alice",
		ContributorID: "bob",
		Sunshines:     720,
		ActorID:       "alice",
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}

	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatalf("forge: %v", err)
	}
	if res.TotalStars != 2 {
		t.Fatalf("total stars = %v, want 2", res.TotalStars)
	}
	if res.SunshinesConsumed != 720 {
		t.Fatalf("consumed = %v, want 720", res.SunshinesConsumed)
	}
	if len(res.Stakeholders) != 3 {
		t.Fatalf("awards = %d, want 3", len(res.Stakeholders))
	}
	want := 2.0 / 3
	for _, a := range res.Stakeholders {
		if a.StarsAwarded != want {
			t.Fatalf("award for %s = %v, want %v", a.ID, a.StarsAwarded, want)
		}
	}

	got, err := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sunshines != 0 {
		t.Fatalf("issue sunshines = %v, want 0", got.Sunshines)
	}
	if got.Stars != 2 {
		t.Fatalf("issue stars = %v, want 2", got.Stars)
	}
	if got.SolarForgeTxid == nil || *got.SolarForgeTxid != res.ForgeRecordID {
		t.Fatalf("txid not recorded")
	}

	alice, _ := env.Engine.Repo.GetStakeholder(env.Ctx, "alice")
	if alice.Stars != want {
		t.Fatalf("alice stars = %v, want %v", alice.Stars, want)
	}
	g, _ := env.Engine.Repo.GetGalaxy(env.Ctx, "gal-1")
	if g.Stars != 2 {
		t.Fatalf("galaxy stars = %v, want 2", g.Stars)
	}

	rec, err := env.Engine.Repo.GetForgeRecord(env.Ctx, res.ForgeRecordID)
	if err != nil {
		t.Fatalf("forge record: %v", err)
	}
	if rec.StarsMinted != 2 || rec.SunshinesConsumed != 720 || len(rec.StakeholderIDs) != 3 {
		t.Fatalf("unexpected forge record: %+v", rec)
	}
}

func TestForgeIssueIdempotent(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "once", AuthorID: "alice", Sunshines: 360, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer"); err != nil {
		t.Fatalf("first forge: %v", err)
	}
	_, err = env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if !errors.Is(err, engine.ErrAlreadyForged) {
		t.Fatalf("second forge err = %v, want ErrAlreadyForged", err)
	}
	alice, _ := env.Engine.Repo.GetStakeholder(env.Ctx, "alice")
	if alice.Stars != 1.0/3 {
		t.Fatalf("alice stars = %v after replay, want %v", alice.Stars, 1.0/3)
	}
}

func TestForgeIssueNoSunshines(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "empty", AuthorID: "alice", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if !errors.Is(err, engine.ErrNoSunshines) {
		t.Fatalf("err = %v, want ErrNoSunshines", err)
	}
}

func TestForgeMissingContributorShareWithheld(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "no contributor", AuthorID: "alice", Sunshines: 360, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stakeholders) != 2 {
		t.Fatalf("awards = %d, want 2", len(res.Stakeholders))
	}
	var sum float64
	for _, a := range res.Stakeholders {
		sum += a.StarsAwarded
	}
	// The empty contributor slot's third is withheld, not redistributed.
	if sum != 2.0/3 {
		t.Fatalf("awarded sum = %v, want %v", sum, 2.0/3)
	}
	g, _ := env.Engine.Repo.GetGalaxy(env.Ctx, "gal-1")
	if g.Stars != 1 {
		t.Fatalf("galaxy stars = %v, want 1", g.Stars)
	}
}

func TestForgeRoleCollapse(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID:      "gal-1",
		Title:         "maintainer authored",
		AuthorID:      "maintainer",
		ContributorID: "maintainer",
		Sunshines:     360,
		ActorID:       "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stakeholders) != 1 {
		t.Fatalf("awards = %d, want 1 deduplicated entry", len(res.Stakeholders))
	}
	a := res.Stakeholders[0]
	if a.ID != "maintainer" {
		t.Fatalf("award id = %s", a.ID)
	}
	if a.StarsAwarded != 1 {
		t.Fatalf("collapsed award = %v, want 1 (three thirds)", a.StarsAwarded)
	}
	if len(a.Roles) != 3 {
		t.Fatalf("roles = %v, want all three", a.Roles)
	}
}

func TestForgeSkipsUnknownStakeholder(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID:      "gal-1",
		Title:         "ghost contributor",
		AuthorID:      "alice",
		ContributorID: "ghost",
		Sunshines:     360,
		ActorID:       "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatalf("forge should survive a failed award: %v", err)
	}
	for _, a := range res.Stakeholders {
		if a.ID == "ghost" {
			t.Fatalf("ghost should not be awarded")
		}
	}
	if len(res.Stakeholders) != 2 {
		t.Fatalf("awards = %d, want 2", len(res.Stakeholders))
	}
	got, _ := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if got.SolarForgeTxid == nil {
		t.Fatalf("issue update must stick even when an award fails")
	}
}

// lateFundingPolicy slips extra sunshines into the issue the first
// time the award is computed, standing in for a funder racing the
// forge between the read and the claim.
type lateFundingPolicy struct {
	t       *testing.T
	env     testEnv
	issueID string
	fired   bool
}

func (p *lateFundingPolicy) StarsFor(sunshines float64) float64 {
	if !p.fired {
		p.fired = true
		if err := p.env.Engine.Repo.AddIssueSunshines(p.env.Ctx, p.issueID, 360, "2024-01-01T00:00:01Z"); err != nil {
			p.t.Fatalf("inject funding: %v", err)
		}
	}
	return engine.FixedRate{SunshinesPerStar: 360}.StarsFor(sunshines)
}

func TestForgeRecomputesWhenFundedMidFlight(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "moving target", AuthorID: "alice", Sunshines: 360, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	policy := &lateFundingPolicy{t: t, env: env, issueID: issue.ID}
	env.Engine.Exchange = policy

	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatalf("forge: %v", err)
	}
	// The claim must land on the refreshed pool, never on the stale
	// read that predated the funding.
	if res.SunshinesConsumed != 720 {
		t.Fatalf("consumed = %v, want 720", res.SunshinesConsumed)
	}
	if res.TotalStars != 2 {
		t.Fatalf("total stars = %v, want 2", res.TotalStars)
	}
	got, _ := env.Engine.Repo.GetIssue(env.Ctx, issue.ID)
	if got.Sunshines != 0 || got.Stars != 2 {
		t.Fatalf("issue after forge = %v sunshines, %v stars", got.Sunshines, got.Stars)
	}
	rec, err := env.Engine.Repo.GetForgeRecord(env.Ctx, res.ForgeRecordID)
	if err != nil {
		t.Fatalf("forge record: %v", err)
	}
	if rec.SunshinesConsumed != 720 || rec.StarsMinted != 2 {
		t.Fatalf("unexpected forge record: %+v", rec)
	}
}

func TestFixedRatePolicy(t *testing.T) {
	p := engine.FixedRate{SunshinesPerStar: 360}
	if got := p.StarsFor(720); got != 2 {
		t.Fatalf("StarsFor(720) = %v", got)
	}
	if got := p.StarsFor(90); got != 0.25 {
		t.Fatalf("StarsFor(90) = %v", got)
	}
}

func TestCustomExchangeRate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Exchange = engine.FixedRate{SunshinesPerStar: 100}
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "cheap stars", AuthorID: "alice", Sunshines: 50, ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ForgeIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalStars != 0.5 {
		t.Fatalf("total stars = %v, want 0.5", res.TotalStars)
	}
}

package engine_test

import (
	"testing"

	"starforge/internal/engine"
)

func attachIssue(t *testing.T, env testEnv, versionID, author, contributor string, sunshines float64) string {
	t.Helper()
	opts := engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "batch", AuthorID: author, Sunshines: sunshines, ActorID: author,
	}
	if contributor != "" {
		opts.ContributorID = contributor
	}
	issue, err := env.Engine.CreateIssue(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AttachPatch(env.Ctx, versionID, issue.ID, "maintainer"); err != nil {
		t.Fatal(err)
	}
	return issue.ID
}

func TestVersionForgeMergesAwards(t *testing.T) {
	env := newTestEnv(t)
	env.seedStakeholder(t, "alice", 0)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v3.0.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	attachIssue(t, env, v.ID, "alice", "", 3240) // 9 stars, 3 per role
	attachIssue(t, env, v.ID, "alice", "", 1620) // 4.5 stars, 1.5 per role

	res, err := env.Engine.ForgeVersion(env.Ctx, v.ID, "maintainer")
	if err != nil {
		t.Fatalf("forge version: %v", err)
	}
	if res.TotalIssuesProcessed != 2 {
		t.Fatalf("processed = %d, want 2", res.TotalIssuesProcessed)
	}
	if res.TotalSunshinesConsumed != 4860 {
		t.Fatalf("consumed = %v, want 4860", res.TotalSunshinesConsumed)
	}
	// contributor slots were empty, so only author+maintainer thirds land
	if res.TotalStarsAwarded != 9 {
		t.Fatalf("awarded = %v, want 9", res.TotalStarsAwarded)
	}
	if len(res.Stakeholders) != 2 {
		t.Fatalf("stakeholders = %d, want 2 merged entries", len(res.Stakeholders))
	}
	for _, a := range res.Stakeholders {
		if a.StarsAwarded != 4.5 {
			t.Fatalf("merged award for %s = %v, want 4.5", a.ID, a.StarsAwarded)
		}
	}
	alice, _ := env.Engine.Repo.GetStakeholder(env.Ctx, "alice")
	if alice.Stars != 4.5 {
		t.Fatalf("alice stars = %v, want 4.5", alice.Stars)
	}
}

func TestVersionForgeSortsByStarsDescending(t *testing.T) {
	env := newTestEnv(t)
	env.seedStakeholder(t, "alice", 0)
	env.seedStakeholder(t, "bob", 0)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v3.1.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	attachIssue(t, env, v.ID, "alice", "bob", 1080) // 1 star per role
	attachIssue(t, env, v.ID, "alice", "", 2160)   // 2 stars per role

	res, err := env.Engine.ForgeVersion(env.Ctx, v.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Stakeholders) != 3 {
		t.Fatalf("stakeholders = %d, want 3", len(res.Stakeholders))
	}
	// alice and maintainer both hold 3; alice was seen first, bob trails with 1
	wantOrder := []string{"alice", "maintainer", "bob"}
	wantStars := []float64{3, 3, 1}
	for n, a := range res.Stakeholders {
		if a.ID != wantOrder[n] || a.StarsAwarded != wantStars[n] {
			t.Fatalf("position %d = %s/%v, want %s/%v", n, a.ID, a.StarsAwarded, wantOrder[n], wantStars[n])
		}
	}
}

func TestVersionForgeSkipsAlreadyForged(t *testing.T) {
	env := newTestEnv(t)
	env.seedStakeholder(t, "alice", 0)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v3.2.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	first := attachIssue(t, env, v.ID, "alice", "", 1080)
	attachIssue(t, env, v.ID, "alice", "", 1080)

	if _, err := env.Engine.ForgeIssue(env.Ctx, first, "maintainer"); err != nil {
		t.Fatalf("pre-forge: %v", err)
	}
	res, err := env.Engine.ForgeVersion(env.Ctx, v.ID, "maintainer")
	if err != nil {
		t.Fatalf("batch forge must not fail on an already forged issue: %v", err)
	}
	if res.TotalIssuesProcessed != 1 {
		t.Fatalf("processed = %d, want 1", res.TotalIssuesProcessed)
	}
	if res.TotalSunshinesConsumed != 1080 {
		t.Fatalf("consumed = %v, want 1080", res.TotalSunshinesConsumed)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "gal-1", "version.forged", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("version.forged events = %d, want 1", len(events))
	}
}

func TestVersionForgeEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v3.3.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ForgeVersion(env.Ctx, v.ID, "maintainer")
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if res.TotalIssuesProcessed != 0 || len(res.Stakeholders) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

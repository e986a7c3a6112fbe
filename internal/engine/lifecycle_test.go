package engine_test

import (
	"testing"

	"starforge/internal/domain"
	"starforge/internal/engine"
)

func TestPatchTagIdempotent(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "tag me", AuthorID: "alice", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.PatchIssue(env.Ctx, issue.ID, "maintainer"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.PatchIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}
	count := 0
	for _, tag := range got.ListHistory {
		if tag == domain.TagPatcher {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("patcher tag count = %d, want 1", count)
	}

	got, err = env.Engine.UnpatchIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if got.HasTag(domain.TagPatcher) {
		t.Fatalf("patcher tag should be removed")
	}
	// removing again is a no-op
	if _, err := env.Engine.UnpatchIssue(env.Ctx, issue.ID, "maintainer"); err != nil {
		t.Fatalf("double unpatch: %v", err)
	}
}

func TestCloseIssuePreservesOtherTags(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		GalaxyID: "gal-1", Title: "close me", AuthorID: "alice", ActorID: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.PatchIssue(env.Ctx, issue.ID, "maintainer"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.CloseIssue(env.Ctx, issue.ID, "maintainer")
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasTag(domain.TagPatcher) || !got.HasTag(domain.TagClosed) {
		t.Fatalf("tags = %v, want both patcher and closed", got.ListHistory)
	}
}

func TestVersionStatusPermissive(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v1.0.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != engine.StatusComplete {
		t.Fatalf("initial status = %s", v.Status)
	}
	// jump straight to archived, then back to testing
	if _, err := env.Engine.SetVersionStatus(env.Ctx, v.ID, engine.StatusArchived, "maintainer", false); err != nil {
		t.Fatalf("to archived: %v", err)
	}
	if _, err := env.Engine.SetVersionStatus(env.Ctx, v.ID, engine.StatusTesting, "maintainer", false); err != nil {
		t.Fatalf("back to testing: %v", err)
	}
	if _, err := env.Engine.SetVersionStatus(env.Ctx, v.ID, "shipped", "maintainer", false); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func setupReleaseVersion(t *testing.T, env testEnv, sunshines ...float64) (string, []string) {
	t.Helper()
	v, err := env.Engine.CreateVersion(env.Ctx, engine.VersionCreateOptions{
		GalaxyID: "gal-1", Tag: "v2.0.0", ActorID: "maintainer",
	})
	if err != nil {
		t.Fatal(err)
	}
	var issueIDs []string
	for n, s := range sunshines {
		issue, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
			GalaxyID: "gal-1", Title: "patch", AuthorID: "alice", Sunshines: s, ActorID: "alice",
		})
		if err != nil {
			t.Fatalf("issue %d: %v", n, err)
		}
		if _, err := env.Engine.AttachPatch(env.Ctx, v.ID, issue.ID, "maintainer"); err != nil {
			t.Fatalf("attach %d: %v", n, err)
		}
		if err := env.Engine.CompletePatch(env.Ctx, v.ID, issue.ID, true, "maintainer"); err != nil {
			t.Fatal(err)
		}
		if err := env.Engine.TestPatch(env.Ctx, v.ID, issue.ID, true, "maintainer"); err != nil {
			t.Fatal(err)
		}
		issueIDs = append(issueIDs, issue.ID)
	}
	return v.ID, issueIDs
}

func TestAttachPatchTagsIssue(t *testing.T) {
	env := newTestEnv(t)
	versionID, issueIDs := setupReleaseVersion(t, env, 0)
	issue, err := env.Engine.Repo.GetIssue(env.Ctx, issueIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !issue.HasTag(domain.TagPatcher) {
		t.Fatalf("attached issue must carry the patcher tag")
	}
	v, err := env.Engine.Repo.GetVersion(env.Ctx, versionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Patches) != 1 || v.Patches[0].IssueID != issueIDs[0] {
		t.Fatalf("patches = %+v", v.Patches)
	}
	// attaching the same issue twice is a no-op
	if _, err := env.Engine.AttachPatch(env.Ctx, versionID, issueIDs[0], "maintainer"); err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	v, _ = env.Engine.Repo.GetVersion(env.Ctx, versionID)
	if len(v.Patches) != 1 {
		t.Fatalf("patches after re-attach = %d, want 1", len(v.Patches))
	}
}

func TestReleaseRequiresCompletedAndTested(t *testing.T) {
	env := newTestEnv(t)
	versionID, issueIDs := setupReleaseVersion(t, env, 360)
	if err := env.Engine.TestPatch(env.Ctx, versionID, issueIDs[0], false, "maintainer"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetVersionStatus(env.Ctx, versionID, engine.StatusRelease, "maintainer", false); err == nil {
		t.Fatalf("expected untested patch to block release")
	}
	// force overrides the readiness checks
	out, err := env.Engine.SetVersionStatus(env.Ctx, versionID, engine.StatusRelease, "maintainer", true)
	if err != nil {
		t.Fatalf("forced release: %v", err)
	}
	if out.Forge == nil {
		t.Fatalf("release must run the batch forge")
	}
}

func TestReleaseForgesAndClosesIssues(t *testing.T) {
	env := newTestEnv(t)
	versionID, issueIDs := setupReleaseVersion(t, env, 720, 360)

	out, err := env.Engine.SetVersionStatus(env.Ctx, versionID, engine.StatusRelease, "maintainer", false)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if out.Version.Status != engine.StatusRelease {
		t.Fatalf("status = %s", out.Version.Status)
	}
	if out.Forge == nil || out.Forge.TotalIssuesProcessed != 2 {
		t.Fatalf("forge summary = %+v", out.Forge)
	}
	if out.Forge.TotalSunshinesConsumed != 1080 {
		t.Fatalf("consumed = %v, want 1080", out.Forge.TotalSunshinesConsumed)
	}
	for _, id := range issueIDs {
		issue, err := env.Engine.Repo.GetIssue(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !issue.HasTag(domain.TagClosed) {
			t.Fatalf("issue %s not closed after release", id)
		}
		if issue.SolarForgeTxid == nil {
			t.Fatalf("issue %s not forged after release", id)
		}
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "gal-1", "version.released", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("version.released events = %d, want 1", len(events))
	}

	// patches are frozen once released
	if err := env.Engine.RemovePatch(env.Ctx, versionID, issueIDs[0], "maintainer"); err == nil {
		t.Fatalf("expected released version to freeze patches")
	}
}

func TestRevertByTag(t *testing.T) {
	env := newTestEnv(t)
	versionID, issueIDs := setupReleaseVersion(t, env, 0, 0)
	v, err := env.Engine.Revert(env.Ctx, "gal-1", "v2.0.0", issueIDs[0], "maintainer")
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	if v.ID != versionID {
		t.Fatalf("resolved wrong version %s", v.ID)
	}
	if len(v.Patches) != 1 || v.Patches[0].IssueID != issueIDs[1] {
		t.Fatalf("patches after revert = %+v", v.Patches)
	}
	issue, _ := env.Engine.Repo.GetIssue(env.Ctx, issueIDs[0])
	if issue.HasTag(domain.TagPatcher) {
		t.Fatalf("reverted issue should lose the patcher tag")
	}
}

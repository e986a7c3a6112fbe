package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starforge/internal/db"
	"starforge/internal/domain"
	"starforge/internal/migrate"
	"starforge/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return repo.Repo{DB: conn}, context.Background()
}

func seedGalaxy(t *testing.T, r repo.Repo, ctx context.Context) {
	t.Helper()
	require.NoError(t, r.InsertGalaxy(ctx, domain.Galaxy{
		ID: "gal-1", Name: "test", MaintainerID: "maintainer", CreatedAt: ts,
	}))
}

func seedIssue(t *testing.T, r repo.Repo, ctx context.Context, id string, sunshines float64) {
	t.Helper()
	require.NoError(t, r.InsertIssue(ctx, domain.Issue{
		ID: id, GalaxyID: "gal-1", Title: "issue " + id, AuthorID: "alice",
		Sunshines: sunshines, ListHistory: []string{}, CreatedAt: ts, UpdatedAt: ts,
	}))
}

func TestClaimSolarForgeOnlyOnce(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGalaxy(t, r, ctx)
	seedIssue(t, r, ctx, "i-1", 100)

	claimed, err := r.ClaimSolarForge(ctx, "i-1", "tx-1", 100, 5, ts)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := r.GetIssue(ctx, "i-1")
	require.NoError(t, err)
	require.NotNil(t, got.SolarForgeTxid)
	assert.Equal(t, "tx-1", *got.SolarForgeTxid)
	assert.Zero(t, got.Sunshines)
	assert.Equal(t, 5.0, got.Stars)

	claimed, err = r.ClaimSolarForge(ctx, "i-1", "tx-2", 100, 5, ts)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")

	got, err = r.GetIssue(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", *got.SolarForgeTxid, "losing claim must not overwrite the txid")
	assert.Equal(t, 5.0, got.Stars)
}

func TestClaimSolarForgeEmptyPool(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGalaxy(t, r, ctx)
	seedIssue(t, r, ctx, "i-1", 0)

	claimed, err := r.ClaimSolarForge(ctx, "i-1", "tx-1", 0, 0, ts)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestClaimSolarForgeMissesWhenPoolMoved(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGalaxy(t, r, ctx)
	seedIssue(t, r, ctx, "i-1", 720)

	claimed, err := r.ClaimSolarForge(ctx, "i-1", "tx-1", 360, 1, ts)
	require.NoError(t, err)
	assert.False(t, claimed, "stale pool amount must not claim")

	got, err := r.GetIssue(ctx, "i-1")
	require.NoError(t, err)
	assert.Nil(t, got.SolarForgeTxid)
	assert.Equal(t, 720.0, got.Sunshines)

	claimed, err = r.ClaimSolarForge(ctx, "i-1", "tx-1", 720, 2, ts)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSpendStakeholderSunshines(t *testing.T) {
	r, ctx := newTestRepo(t)
	require.NoError(t, r.InsertStakeholder(ctx, domain.Stakeholder{
		ID: "alice", Nickname: "alice", Role: "user", Sunshines: 10, CreatedAt: ts,
	}))

	ok, err := r.SpendStakeholderSunshines(ctx, "alice", 7)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.SpendStakeholderSunshines(ctx, "alice", 5)
	require.NoError(t, err)
	assert.False(t, ok, "overdraft must be refused")

	s, err := r.GetStakeholder(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Sunshines)

	ok, err = r.SpendStakeholderSunshines(ctx, "nobody", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementBalanceRejectsUnknownField(t *testing.T) {
	r, ctx := newTestRepo(t)
	err := r.IncrementStakeholderBalance(ctx, "alice", "created_at", 1)
	require.Error(t, err)
	err = r.IncrementGalaxyBalance(ctx, "gal-1", "name", 1)
	require.Error(t, err)
}

func TestUpdateIssueTagsNotFound(t *testing.T) {
	r, ctx := newTestRepo(t)
	err := r.UpdateIssueTags(ctx, "missing", []string{"patcher"}, ts)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAttachPatchOrderingAndIgnore(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGalaxy(t, r, ctx)
	require.NoError(t, r.InsertVersion(ctx, domain.Version{
		ID: "v-1", GalaxyID: "gal-1", Tag: "v1.0.0", Status: "complete",
		MaintainerID: "maintainer", CreatedAt: ts, UpdatedAt: ts,
	}))

	for _, id := range []string{"i-1", "i-2", "i-3"} {
		require.NoError(t, r.AttachPatch(ctx, "v-1", domain.Patch{IssueID: id, Title: id}))
	}
	// re-attach is ignored and keeps the original position
	require.NoError(t, r.AttachPatch(ctx, "v-1", domain.Patch{IssueID: "i-1", Title: "dup"}))

	v, err := r.GetVersion(ctx, "v-1")
	require.NoError(t, err)
	require.Len(t, v.Patches, 3)
	for n, want := range []string{"i-1", "i-2", "i-3"} {
		assert.Equal(t, want, v.Patches[n].IssueID)
	}

	require.NoError(t, r.SetPatchCompleted(ctx, "v-1", "i-2", true))
	require.NoError(t, r.SetPatchTested(ctx, "v-1", "i-2", true))
	v, err = r.GetVersion(ctx, "v-1")
	require.NoError(t, err)
	assert.True(t, v.Patches[1].Completed)
	assert.True(t, v.Patches[1].Tested)

	require.NoError(t, r.RemovePatch(ctx, "v-1", "i-2"))
	assert.ErrorIs(t, r.RemovePatch(ctx, "v-1", "i-2"), repo.ErrNotFound)
}

func TestGetVersionByTag(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedGalaxy(t, r, ctx)
	require.NoError(t, r.InsertVersion(ctx, domain.Version{
		ID: "v-1", GalaxyID: "gal-1", Tag: "v1.0.0", Status: "complete",
		MaintainerID: "maintainer", CreatedAt: ts, UpdatedAt: ts,
	}))

	v, err := r.GetVersionByTag(ctx, "gal-1", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "v-1", v.ID)

	_, err = r.GetVersionByTag(ctx, "gal-1", "v9.9.9")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpsertSpacePosition(t *testing.T) {
	r, ctx := newTestRepo(t)
	pos := domain.SpacePosition{
		GalaxyID: "gal-1", StakeholderID: "alice", Nickname: "alice",
		Role: "user", Sunshines: 10, Stars: 1, UpdatedAt: ts,
	}
	require.NoError(t, r.UpsertSpacePosition(ctx, pos))

	pos.Stars = 4
	pos.Sunshines = 0
	require.NoError(t, r.UpsertSpacePosition(ctx, pos))

	other := pos
	other.StakeholderID = "bob"
	other.Nickname = "bob"
	other.Stars = 2
	require.NoError(t, r.UpsertSpacePosition(ctx, other))

	list, err := r.ListSpacePositions(ctx, "gal-1")
	require.NoError(t, err)
	require.Len(t, list, 2, "upsert must not duplicate rows")
	assert.Equal(t, "alice", list[0].StakeholderID, "sorted by stars descending")
	assert.Equal(t, 4.0, list[0].Stars)
	assert.Equal(t, "bob", list[1].StakeholderID)
}

func TestForgeRecordRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	rec := domain.ForgeRecord{
		ID: "tx-1", Type: "issue", GalaxyID: "gal-1", IssueID: "i-1",
		StakeholderIDs: []string{"alice", "maintainer"},
		SunshinesConsumed: 720, StarsMinted: 2, CreatedAt: ts,
	}
	require.NoError(t, r.AppendForgeRecord(ctx, rec))

	got, err := r.GetForgeRecord(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = r.GetForgeRecord(ctx, "tx-missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

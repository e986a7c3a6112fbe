package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"starforge/internal/domain"
	"starforge/internal/events"
)

// Version statuses. Transitions are deliberately permissive: any status
// may be assigned directly so maintainers can override the usual
// complete -> testing -> release -> archived flow.
const (
	StatusComplete = "complete"
	StatusTesting  = "testing"
	StatusRelease  = "release"
	StatusArchived = "archived"
)

func validVersionStatus(status string) bool {
	switch status {
	case StatusComplete, StatusTesting, StatusRelease, StatusArchived:
		return true
	}
	return false
}

// PatchIssue marks an issue eligible for batch inclusion. Idempotent.
func (e Engine) PatchIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	return e.addIssueTag(ctx, issueID, domain.TagPatcher, actorID)
}

// UnpatchIssue removes the eligibility tag. No-op when absent.
func (e Engine) UnpatchIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	return e.removeIssueTag(ctx, issueID, domain.TagPatcher, actorID)
}

// CloseIssue marks an issue resolved. Idempotent.
func (e Engine) CloseIssue(ctx context.Context, issueID, actorID string) (domain.Issue, error) {
	return e.addIssueTag(ctx, issueID, domain.TagClosed, actorID)
}

func (e Engine) addIssueTag(ctx context.Context, issueID, tag, actorID string) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return i, err
	}
	if i.HasTag(tag) {
		return i, nil
	}
	i.ListHistory = append(i.ListHistory, tag)
	i.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateIssueTags(ctx, i.ID, i.ListHistory, i.UpdatedAt); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, "issue.tagged", i.GalaxyID, "issue", i.ID, actorID, events.EventPayload{"tag": tag}); err != nil {
		return i, err
	}
	return i, nil
}

func (e Engine) removeIssueTag(ctx context.Context, issueID, tag, actorID string) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return i, err
	}
	if !i.HasTag(tag) {
		return i, nil
	}
	kept := make([]string, 0, len(i.ListHistory))
	for _, t := range i.ListHistory {
		if t != tag {
			kept = append(kept, t)
		}
	}
	i.ListHistory = kept
	i.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateIssueTags(ctx, i.ID, i.ListHistory, i.UpdatedAt); err != nil {
		return i, err
	}
	if err := e.Events.Append(ctx, "issue.untagged", i.GalaxyID, "issue", i.ID, actorID, events.EventPayload{"tag": tag}); err != nil {
		return i, err
	}
	return i, nil
}

// VersionCreateOptions are parameters for creating a version.
type VersionCreateOptions struct {
	ID       string
	GalaxyID string
	Tag      string
	ActorID  string
}

func (e Engine) CreateVersion(ctx context.Context, opts VersionCreateOptions) (domain.Version, error) {
	if opts.GalaxyID == "" {
		return domain.Version{}, errors.New("galaxy is required")
	}
	if opts.Tag == "" {
		return domain.Version{}, errors.New("tag is required")
	}
	g, err := e.Repo.GetGalaxy(ctx, opts.GalaxyID)
	if err != nil {
		return domain.Version{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	v := domain.Version{
		ID:           id,
		GalaxyID:     g.ID,
		Tag:          opts.Tag,
		Status:       StatusComplete,
		MaintainerID: g.MaintainerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertVersion(ctx, v); err != nil {
		return domain.Version{}, fmt.Errorf("insert version: %w", err)
	}
	if err := e.Events.Append(ctx, "version.created", v.GalaxyID, "version", v.ID, opts.ActorID, events.EventPayload{"tag": v.Tag}); err != nil {
		return domain.Version{}, err
	}
	return v, nil
}

// AttachPatch adds an issue to a version's release batch and tags the
// issue as a patcher. Patches are frozen once the version is released.
func (e Engine) AttachPatch(ctx context.Context, versionID, issueID, actorID string) (domain.Version, error) {
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return v, err
	}
	if v.Status == StatusRelease {
		return v, fmt.Errorf("version %s already released; patches frozen", v.Tag)
	}
	issue, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return v, err
	}
	if issue.GalaxyID != v.GalaxyID {
		return v, fmt.Errorf("issue %s not in galaxy %s", issueID, v.GalaxyID)
	}
	if _, err := e.PatchIssue(ctx, issueID, actorID); err != nil {
		return v, err
	}
	if err := e.Repo.AttachPatch(ctx, v.ID, domain.Patch{IssueID: issue.ID, Title: issue.Title}); err != nil {
		return v, fmt.Errorf("attach patch: %w", err)
	}
	if err := e.Events.Append(ctx, "version.patch.attached", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"issue_id": issue.ID}); err != nil {
		return v, err
	}
	return e.Repo.GetVersion(ctx, v.ID)
}

// CompletePatch toggles the completed flag on a patch.
func (e Engine) CompletePatch(ctx context.Context, versionID, issueID string, completed bool, actorID string) error {
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if err := e.Repo.SetPatchCompleted(ctx, versionID, issueID, completed); err != nil {
		return err
	}
	return e.Events.Append(ctx, "version.patch.completed", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"issue_id": issueID, "completed": completed})
}

// TestPatch toggles the tested flag on a patch.
func (e Engine) TestPatch(ctx context.Context, versionID, issueID string, tested bool, actorID string) error {
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if err := e.Repo.SetPatchTested(ctx, versionID, issueID, tested); err != nil {
		return err
	}
	return e.Events.Append(ctx, "version.patch.tested", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"issue_id": issueID, "tested": tested})
}

// RemovePatch deletes a patch from the version's list.
func (e Engine) RemovePatch(ctx context.Context, versionID, issueID, actorID string) error {
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status == StatusRelease {
		return fmt.Errorf("version %s already released; patches frozen", v.Tag)
	}
	if err := e.Repo.RemovePatch(ctx, versionID, issueID); err != nil {
		return err
	}
	return e.Events.Append(ctx, "version.patch.removed", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"issue_id": issueID})
}

// Revert removes an issue from a version addressed by business key
// (galaxy + tag) instead of id, and drops the issue's patcher tag.
func (e Engine) Revert(ctx context.Context, galaxyID, versionTag, issueID, actorID string) (domain.Version, error) {
	v, err := e.Repo.GetVersionByTag(ctx, galaxyID, versionTag)
	if err != nil {
		return v, err
	}
	if v.Status == StatusRelease {
		return v, fmt.Errorf("version %s already released; patches frozen", v.Tag)
	}
	if err := e.Repo.RemovePatch(ctx, v.ID, issueID); err != nil {
		return v, err
	}
	if _, err := e.UnpatchIssue(ctx, issueID, actorID); err != nil {
		return v, err
	}
	if err := e.Events.Append(ctx, "version.patch.reverted", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"issue_id": issueID, "tag": v.Tag}); err != nil {
		return v, err
	}
	return e.Repo.GetVersion(ctx, v.ID)
}

// ReleaseOutcome pairs the updated version with the forge summary when
// a status change triggered conversion.
type ReleaseOutcome struct {
	Version domain.Version      `json:"version"`
	Forge   *VersionForgeResult `json:"forge,omitempty"`
}

// SetVersionStatus assigns a version status directly. Entering release
// is the one transition with teeth: unless forced, every patch must be
// completed and tested; then the batch forge runs as a guaranteed side
// effect of the same operation, all patched issues are closed, and a
// version.released event is appended for external consumers.
func (e Engine) SetVersionStatus(ctx context.Context, versionID, status, actorID string, force bool) (ReleaseOutcome, error) {
	if !validVersionStatus(status) {
		return ReleaseOutcome{}, fmt.Errorf("invalid version status %q", status)
	}
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return ReleaseOutcome{}, err
	}
	if status != StatusRelease {
		if err := e.updateStatus(ctx, &v, status, actorID); err != nil {
			return ReleaseOutcome{}, err
		}
		return ReleaseOutcome{Version: v}, nil
	}

	if !force {
		for _, p := range v.Patches {
			if !p.Completed {
				return ReleaseOutcome{}, fmt.Errorf("patch %s not completed", p.IssueID)
			}
			if !p.Tested {
				return ReleaseOutcome{}, fmt.Errorf("patch %s not tested", p.IssueID)
			}
		}
	}
	if err := e.updateStatus(ctx, &v, status, actorID); err != nil {
		return ReleaseOutcome{}, err
	}
	for _, p := range v.Patches {
		if _, err := e.CloseIssue(ctx, p.IssueID, actorID); err != nil {
			log.Printf("release %s: close issue %s failed: %v", v.Tag, p.IssueID, err)
		}
	}
	if err := e.Events.Append(ctx, "version.released", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{
		"version_id": v.ID,
		"tag":        v.Tag,
		"galaxy_id":  v.GalaxyID,
	}); err != nil {
		return ReleaseOutcome{Version: v}, err
	}
	forge, err := e.ForgeVersion(ctx, v.ID, actorID)
	if err != nil {
		return ReleaseOutcome{Version: v}, fmt.Errorf("release forge: %w", err)
	}
	return ReleaseOutcome{Version: v, Forge: &forge}, nil
}

func (e Engine) updateStatus(ctx context.Context, v *domain.Version, status, actorID string) error {
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateVersionStatus(ctx, v.ID, status, now); err != nil {
		return err
	}
	prev := v.Status
	v.Status = status
	v.UpdatedAt = now
	return e.Events.Append(ctx, "version.updated", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{"from": prev, "to": status})
}

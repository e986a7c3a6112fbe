package engine

import (
	"context"
	"errors"
	"log"
	"sort"

	"starforge/internal/events"
)

// VersionForgeResult is the merged outcome of forging every issue in a
// release batch. Stakeholders are sorted descending by awarded stars;
// ties keep first-encountered order.
type VersionForgeResult struct {
	VersionID              string             `json:"version_id"`
	Tag                    string             `json:"tag"`
	Stakeholders           []StakeholderAward `json:"stakeholders"`
	TotalIssuesProcessed   int                `json:"total_issues_processed"`
	TotalSunshinesConsumed float64            `json:"total_sunshines_consumed"`
	TotalStarsAwarded      float64            `json:"total_stars_awarded"`
}

// ForgeVersion runs the solar forge over every issue referenced by the
// version's patches and merges the awards per stakeholder.
//
// A version may be released more than once: issues already forged are
// skipped silently and excluded from the new totals. Any other
// per-issue failure is logged and swallowed so one bad issue cannot
// block the batch. Must not run concurrently for the same version.
func (e Engine) ForgeVersion(ctx context.Context, versionID, actorID string) (VersionForgeResult, error) {
	v, err := e.Repo.GetVersion(ctx, versionID)
	if err != nil {
		return VersionForgeResult{}, err
	}

	result := VersionForgeResult{VersionID: v.ID, Tag: v.Tag}
	index := map[string]int{}
	for _, patch := range v.Patches {
		issue, err := e.Repo.GetIssue(ctx, patch.IssueID)
		if err != nil {
			log.Printf("version forge %s: issue %s unreadable, skipped: %v", v.Tag, patch.IssueID, err)
			continue
		}
		if issue.Sunshines <= 0 {
			continue
		}
		fr, err := e.ForgeIssue(ctx, issue.ID, actorID)
		if errors.Is(err, ErrAlreadyForged) {
			continue
		}
		if err != nil {
			log.Printf("version forge %s: issue %s skipped: %v", v.Tag, issue.ID, err)
			continue
		}
		if len(fr.Stakeholders) == 0 {
			continue
		}
		result.TotalIssuesProcessed++
		result.TotalSunshinesConsumed += fr.SunshinesConsumed
		for _, award := range fr.Stakeholders {
			result.TotalStarsAwarded += award.StarsAwarded
			if i, ok := index[award.ID]; ok {
				result.Stakeholders[i].StarsAwarded += award.StarsAwarded
				result.Stakeholders[i].Roles = unionRoles(result.Stakeholders[i].Roles, award.Roles)
				continue
			}
			index[award.ID] = len(result.Stakeholders)
			result.Stakeholders = append(result.Stakeholders, StakeholderAward{
				ID:           award.ID,
				Roles:        append([]string(nil), award.Roles...),
				StarsAwarded: award.StarsAwarded,
			})
		}
	}

	sort.SliceStable(result.Stakeholders, func(i, j int) bool {
		return result.Stakeholders[i].StarsAwarded > result.Stakeholders[j].StarsAwarded
	})

	if err := e.Events.Append(ctx, "version.forged", v.GalaxyID, "version", v.ID, actorID, events.EventPayload{
		"tag":                v.Tag,
		"issues_processed":   result.TotalIssuesProcessed,
		"sunshines_consumed": result.TotalSunshinesConsumed,
		"stars_awarded":      result.TotalStarsAwarded,
	}); err != nil {
		return result, err
	}
	return result, nil
}

func unionRoles(existing, incoming []string) []string {
	for _, role := range incoming {
		found := false
		for _, have := range existing {
			if have == role {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, role)
		}
	}
	return existing
}

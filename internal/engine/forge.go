package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"starforge/internal/domain"
	"starforge/internal/events"
)

// StakeholderAward is one stakeholder's share of a forge. Roles lists
// every role slot the stakeholder occupied on the issue.
type StakeholderAward struct {
	ID           string   `json:"id"`
	Roles        []string `json:"roles"`
	StarsAwarded float64  `json:"stars_awarded"`
}

// ForgeResult is the outcome of converting one issue.
type ForgeResult struct {
	IssueID           string             `json:"issue_id"`
	ForgeRecordID     string             `json:"forge_record_id"`
	SunshinesConsumed float64            `json:"sunshines_consumed"`
	TotalStars        float64            `json:"total_stars"`
	Stakeholders      []StakeholderAward `json:"stakeholders"`
}

// ForgeIssue converts an issue's accumulated sunshines into stars and
// splits them among the role holders.
//
// The issue update is the authoritative step: it atomically claims the
// idempotency marker, zeroes the pool and credits the issue's stars in
// one conditional write. The claim requires the pool to still hold the
// amount the award was computed from; when it moved, the issue is
// re-read and the award recomputed. Everything after the claim is best
// effort: a failed per-stakeholder award is skipped, never rolled back.
func (e Engine) ForgeIssue(ctx context.Context, issueID, actorID string) (ForgeResult, error) {
	txid := uuid.New().String()
	now := e.now().UTC().Format(time.RFC3339)

	var (
		issue      domain.Issue
		consumed   float64
		totalStars float64
		shares     []StakeholderAward
	)
	for {
		var err error
		issue, err = e.Repo.GetIssue(ctx, issueID)
		if err != nil {
			return ForgeResult{}, err
		}
		if issue.SolarForgeTxid != nil {
			return ForgeResult{}, ErrAlreadyForged
		}
		if issue.Sunshines <= 0 {
			return ForgeResult{}, ErrNoSunshines
		}
		galaxy, err := e.Repo.GetGalaxy(ctx, issue.GalaxyID)
		if err != nil {
			return ForgeResult{}, err
		}

		consumed = issue.Sunshines
		totalStars = e.exchange().StarsFor(consumed)
		// Fixed three-way split per role slot. An unfilled contributor
		// slot means its share is never awarded, not redistributed.
		starsPerRole := totalStars / 3
		shares = resolveRoleShares(issue, galaxy.MaintainerID, starsPerRole)

		claimed, err := e.Repo.ClaimSolarForge(ctx, issue.ID, txid, consumed, totalStars, now)
		if err != nil {
			return ForgeResult{}, fmt.Errorf("claim solar forge: %w", err)
		}
		if claimed {
			break
		}
		// Lost the claim: either another forge won, which the next
		// read reports as ErrAlreadyForged, or a funding landed after
		// the read and the award must be recomputed.
	}
	if err := e.Repo.IncrementGalaxyBalance(ctx, issue.GalaxyID, "stars", totalStars); err != nil {
		log.Printf("forge: galaxy %s star credit failed for issue %s: %v", issue.GalaxyID, issue.ID, err)
	}

	var awarded []StakeholderAward
	for _, share := range shares {
		if err := e.Repo.IncrementStakeholderBalance(ctx, share.ID, "stars", share.StarsAwarded); err != nil {
			log.Printf("forge: award to stakeholder %s skipped for issue %s: %v", share.ID, issue.ID, err)
			continue
		}
		awarded = append(awarded, share)
		e.refreshSpacePosition(ctx, issue.GalaxyID, share.ID, now)
	}

	rec := domain.ForgeRecord{
		ID:                txid,
		Type:              "issue",
		GalaxyID:          issue.GalaxyID,
		IssueID:           issue.ID,
		StakeholderIDs:    awardIDs(awarded),
		SunshinesConsumed: consumed,
		StarsMinted:       totalStars,
		CreatedAt:         now,
	}
	if err := e.Repo.AppendForgeRecord(ctx, rec); err != nil {
		return ForgeResult{}, fmt.Errorf("append forge record: %w", err)
	}
	if err := e.Events.Append(ctx, "issue.forged", issue.GalaxyID, "issue", issue.ID, actorID, events.EventPayload{
		"forge_record_id": rec.ID,
		"sunshines":       consumed,
		"stars":           totalStars,
	}); err != nil {
		return ForgeResult{}, err
	}
	return ForgeResult{
		IssueID:           issue.ID,
		ForgeRecordID:     rec.ID,
		SunshinesConsumed: consumed,
		TotalStars:        totalStars,
		Stakeholders:      awarded,
	}, nil
}

// resolveRoleShares maps the three role slots onto stakeholders and
// deduplicates by id: one person holding two roles gets the sum of
// both shares and both role names.
func resolveRoleShares(issue domain.Issue, maintainerID string, starsPerRole float64) []StakeholderAward {
	type slot struct {
		id   string
		role string
	}
	slots := []slot{{issue.AuthorID, RoleAuthor}}
	if issue.ContributorID != nil && *issue.ContributorID != "" {
		slots = append(slots, slot{*issue.ContributorID, RoleContributor})
	}
	slots = append(slots, slot{maintainerID, RoleMaintainer})

	index := map[string]int{}
	var shares []StakeholderAward
	for _, s := range slots {
		if i, ok := index[s.id]; ok {
			shares[i].Roles = append(shares[i].Roles, s.role)
			shares[i].StarsAwarded += starsPerRole
			continue
		}
		index[s.id] = len(shares)
		shares = append(shares, StakeholderAward{
			ID:           s.id,
			Roles:        []string{s.role},
			StarsAwarded: starsPerRole,
		})
	}
	return shares
}

// refreshSpacePosition upserts the presentation cache row. Failures
// never abort a forge.
func (e Engine) refreshSpacePosition(ctx context.Context, galaxyID, stakeholderID, now string) {
	s, err := e.Repo.GetStakeholder(ctx, stakeholderID)
	if err != nil {
		log.Printf("forge: space snapshot read for %s failed: %v", stakeholderID, err)
		return
	}
	pos := domain.SpacePosition{
		GalaxyID:      galaxyID,
		StakeholderID: s.ID,
		Nickname:      s.Nickname,
		Avatar:        s.Avatar,
		Role:          s.Role,
		Sunshines:     s.Sunshines,
		Stars:         s.Stars,
		UpdatedAt:     now,
	}
	if err := e.Repo.UpsertSpacePosition(ctx, pos); err != nil {
		log.Printf("forge: space snapshot write for %s failed: %v", stakeholderID, err)
	}
}

func awardIDs(awards []StakeholderAward) []string {
	ids := make([]string, 0, len(awards))
	for _, a := range awards {
		ids = append(ids, a.ID)
	}
	return ids
}

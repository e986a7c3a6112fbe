package server

import (
	"starforge/internal/domain"
)

type CreateGalaxyRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	MaintainerID string `json:"maintainer_id"`
}

type GalaxyResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	MaintainerID string  `json:"maintainer_id"`
	Sunshines    float64 `json:"sunshines"`
	Stars        float64 `json:"stars"`
	CreatedAt    string  `json:"created_at"`
}

type CreateStakeholderRequest struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty" enum:"user,contributor,maintainer"`
}

type StakeholderResponse struct {
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname"`
	Avatar    string  `json:"avatar,omitempty"`
	Role      string  `json:"role"`
	Sunshines float64 `json:"sunshines"`
	Stars     float64 `json:"stars"`
	CreatedAt string  `json:"created_at"`
}

type CreateIssueRequest struct {
	ID            *string `json:"id,omitempty"`
	Title         string  `json:"title"`
	Body          *string `json:"body,omitempty"`
	ContributorID *string `json:"contributor_id,omitempty"`
	Sunshines     float64 `json:"sunshines,omitempty" minimum:"0"`
}

type IssueResponse struct {
	ID             string   `json:"id"`
	GalaxyID       string   `json:"galaxy_id"`
	Title          string   `json:"title"`
	Body           string   `json:"body,omitempty"`
	AuthorID       string   `json:"author_id"`
	ContributorID  *string  `json:"contributor_id,omitempty"`
	Sunshines      float64  `json:"sunshines"`
	Stars          float64  `json:"stars"`
	ListHistory    []string `json:"list_history"`
	SolarForgeTxid *string  `json:"solar_forge_txid,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type FundIssueRequest struct {
	// FunderID defaults to the authenticated actor when omitted.
	FunderID string  `json:"funder_id,omitempty"`
	Amount   float64 `json:"amount" minimum:"0"`
}

type TagRequest struct {
	Tag string `json:"tag" enum:"patcher,closed"`
}

type CreateVersionRequest struct {
	ID  *string `json:"id,omitempty"`
	Tag string  `json:"tag"`
}

type AttachPatchRequest struct {
	IssueID string `json:"issue_id"`
}

type PatchToggleRequest struct {
	Value bool `json:"value"`
}

type SetVersionStatusRequest struct {
	Status string `json:"status" enum:"complete,testing,release,archived"`
}

type RevertRequest struct {
	IssueID string `json:"issue_id"`
}

type PatchResponse struct {
	IssueID   string `json:"issue_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Tested    bool   `json:"tested"`
}

type VersionResponse struct {
	ID           string          `json:"id"`
	GalaxyID     string          `json:"galaxy_id"`
	Tag          string          `json:"tag"`
	Status       string          `json:"status"`
	MaintainerID string          `json:"maintainer_id"`
	Patches      []PatchResponse `json:"patches"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type ForgeRecordResponse struct {
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	GalaxyID          string   `json:"galaxy_id"`
	IssueID           string   `json:"issue_id,omitempty"`
	StakeholderIDs    []string `json:"stakeholder_ids"`
	SunshinesConsumed float64  `json:"sunshines_consumed"`
	StarsMinted       float64  `json:"stars_minted"`
	CreatedAt         string   `json:"created_at"`
}

type SpacePositionResponse struct {
	GalaxyID      string  `json:"galaxy_id"`
	StakeholderID string  `json:"stakeholder_id"`
	Nickname      string  `json:"nickname"`
	Avatar        string  `json:"avatar,omitempty"`
	Role          string  `json:"role"`
	Sunshines     float64 `json:"sunshines"`
	Stars         float64 `json:"stars"`
	UpdatedAt     string  `json:"updated_at"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	GalaxyID   string `json:"galaxy_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func galaxyResponse(g domain.Galaxy) GalaxyResponse {
	return GalaxyResponse{
		ID:           g.ID,
		Name:         g.Name,
		MaintainerID: g.MaintainerID,
		Sunshines:    g.Sunshines,
		Stars:        g.Stars,
		CreatedAt:    g.CreatedAt,
	}
}

func mapGalaxies(items []domain.Galaxy) []GalaxyResponse {
	out := make([]GalaxyResponse, 0, len(items))
	for _, g := range items {
		out = append(out, galaxyResponse(g))
	}
	return out
}

func stakeholderResponse(s domain.Stakeholder) StakeholderResponse {
	return StakeholderResponse{
		ID:        s.ID,
		Nickname:  s.Nickname,
		Avatar:    s.Avatar,
		Role:      s.Role,
		Sunshines: s.Sunshines,
		Stars:     s.Stars,
		CreatedAt: s.CreatedAt,
	}
}

func issueResponse(i domain.Issue) IssueResponse {
	tags := i.ListHistory
	if tags == nil {
		tags = []string{}
	}
	return IssueResponse{
		ID:             i.ID,
		GalaxyID:       i.GalaxyID,
		Title:          i.Title,
		Body:           i.Body,
		AuthorID:       i.AuthorID,
		ContributorID:  i.ContributorID,
		Sunshines:      i.Sunshines,
		Stars:          i.Stars,
		ListHistory:    tags,
		SolarForgeTxid: i.SolarForgeTxid,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	out := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		out = append(out, issueResponse(i))
	}
	return out
}

func versionResponse(v domain.Version) VersionResponse {
	patches := make([]PatchResponse, 0, len(v.Patches))
	for _, p := range v.Patches {
		patches = append(patches, PatchResponse{
			IssueID:   p.IssueID,
			Title:     p.Title,
			Completed: p.Completed,
			Tested:    p.Tested,
		})
	}
	return VersionResponse{
		ID:           v.ID,
		GalaxyID:     v.GalaxyID,
		Tag:          v.Tag,
		Status:       v.Status,
		MaintainerID: v.MaintainerID,
		Patches:      patches,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

func mapForgeRecords(items []domain.ForgeRecord) []ForgeRecordResponse {
	out := make([]ForgeRecordResponse, 0, len(items))
	for _, rec := range items {
		ids := rec.StakeholderIDs
		if ids == nil {
			ids = []string{}
		}
		out = append(out, ForgeRecordResponse{
			ID:                rec.ID,
			Type:              rec.Type,
			GalaxyID:          rec.GalaxyID,
			IssueID:           rec.IssueID,
			StakeholderIDs:    ids,
			SunshinesConsumed: rec.SunshinesConsumed,
			StarsMinted:       rec.StarsMinted,
			CreatedAt:         rec.CreatedAt,
		})
	}
	return out
}

func mapSpacePositions(items []domain.SpacePosition) []SpacePositionResponse {
	out := make([]SpacePositionResponse, 0, len(items))
	for _, p := range items {
		out = append(out, SpacePositionResponse{
			GalaxyID:      p.GalaxyID,
			StakeholderID: p.StakeholderID,
			Nickname:      p.Nickname,
			Avatar:        p.Avatar,
			Role:          p.Role,
			Sunshines:     p.Sunshines,
			Stars:         p.Stars,
			UpdatedAt:     p.UpdatedAt,
		})
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		out = append(out, EventResponse{
			ID:         evt.ID,
			TS:         evt.TS,
			Type:       evt.Type,
			GalaxyID:   evt.GalaxyID,
			EntityKind: evt.EntityKind,
			EntityID:   evt.EntityID,
			ActorID:    evt.ActorID,
			Payload:    evt.Payload,
		})
	}
	return out
}

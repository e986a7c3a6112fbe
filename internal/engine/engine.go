package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"starforge/internal/config"
	"starforge/internal/domain"
	"starforge/internal/events"
	"starforge/internal/repo"
)

// Engine implements the conversion and consistency core. The three
// aggregates (stakeholder, issue, galaxy) live in independent rows and
// are never mutated inside a shared transaction: multi-step operations
// compensate by hand when a later step fails.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Exchange ExchangePolicy
	Now      func() time.Time
}

var (
	// ErrAlreadyForged is an expected outcome, not a failure: the
	// issue's conversion already happened.
	ErrAlreadyForged       = errors.New("issue already forged")
	ErrNoSunshines         = errors.New("issue has no sunshines")
	ErrInsufficientBalance = errors.New("insufficient sunshine balance")
)

// Stakeholder roles on an issue. The star award is always split into
// exactly three equal shares, one per role slot.
const (
	RoleAuthor      = "author"
	RoleContributor = "contributor"
	RoleMaintainer  = "maintainer"
)

// ExchangePolicy converts a sunshine amount into stars. Must be pure
// and injective.
type ExchangePolicy interface {
	StarsFor(sunshines float64) float64
}

// FixedRate is the default policy: a constant number of sunshines per
// star.
type FixedRate struct {
	SunshinesPerStar float64
}

func (f FixedRate) StarsFor(sunshines float64) float64 {
	return sunshines / f.SunshinesPerStar
}

const defaultSunshinesPerStar = 360

func New(db *sql.DB, cfg *config.Config) Engine {
	rate := float64(defaultSunshinesPerStar)
	if cfg != nil && cfg.Exchange.SunshinesPerStar > 0 {
		rate = cfg.Exchange.SunshinesPerStar
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Exchange: FixedRate{SunshinesPerStar: rate},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) exchange() ExchangePolicy {
	if e.Exchange != nil {
		return e.Exchange
	}
	return FixedRate{SunshinesPerStar: defaultSunshinesPerStar}
}

// InitGalaxy creates a galaxy and its maintainer stakeholder if missing.
func (e Engine) InitGalaxy(ctx context.Context, galaxyID, name, maintainerID, actorID string) (domain.Galaxy, error) {
	if galaxyID == "" {
		return domain.Galaxy{}, errors.New("galaxy id is required")
	}
	if maintainerID == "" {
		return domain.Galaxy{}, errors.New("maintainer is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	if _, err := e.EnsureStakeholder(ctx, maintainerID, maintainerID, RoleMaintainer); err != nil {
		return domain.Galaxy{}, fmt.Errorf("ensure maintainer: %w", err)
	}
	g := domain.Galaxy{
		ID:           galaxyID,
		Name:         name,
		MaintainerID: maintainerID,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertGalaxy(ctx, g); err != nil {
		return domain.Galaxy{}, fmt.Errorf("insert galaxy: %w", err)
	}
	if err := e.Repo.UpsertGalaxyConfig(ctx, g.ID, config.Default(g.ID)); err != nil {
		return domain.Galaxy{}, fmt.Errorf("insert galaxy config: %w", err)
	}
	if err := e.Events.Append(ctx, "galaxy.init", g.ID, "galaxy", g.ID, actorID, events.EventPayload{"name": g.Name}); err != nil {
		return domain.Galaxy{}, err
	}
	return g, nil
}

// EnsureStakeholder creates the stakeholder on first participation.
// Existing stakeholders are returned untouched.
func (e Engine) EnsureStakeholder(ctx context.Context, id, nickname, role string) (domain.Stakeholder, error) {
	s, err := e.Repo.GetStakeholder(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Stakeholder{}, err
	}
	if role == "" {
		role = "user"
	}
	if nickname == "" {
		nickname = id
	}
	s = domain.Stakeholder{
		ID:        id,
		Nickname:  nickname,
		Role:      role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertStakeholder(ctx, s); err != nil {
		return domain.Stakeholder{}, fmt.Errorf("insert stakeholder: %w", err)
	}
	return s, nil
}

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	ID            string
	GalaxyID      string
	Title         string
	Body          string
	AuthorID      string
	ContributorID string
	Sunshines     float64
	ActorID       string
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Title == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	if opts.GalaxyID == "" {
		return domain.Issue{}, errors.New("galaxy is required")
	}
	if opts.AuthorID == "" {
		return domain.Issue{}, errors.New("author is required")
	}
	if opts.Sunshines < 0 {
		return domain.Issue{}, errors.New("sunshines must be non-negative")
	}
	if _, err := e.Repo.GetGalaxy(ctx, opts.GalaxyID); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.EnsureStakeholder(ctx, opts.AuthorID, opts.AuthorID, "user"); err != nil {
		return domain.Issue{}, err
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	i := domain.Issue{
		ID:          id,
		GalaxyID:    opts.GalaxyID,
		Title:       opts.Title,
		Body:        opts.Body,
		AuthorID:    opts.AuthorID,
		Sunshines:   opts.Sunshines,
		ListHistory: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ContributorID != "" {
		i.ContributorID = &opts.ContributorID
	}
	if err := e.Repo.InsertIssue(ctx, i); err != nil {
		return domain.Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if opts.Sunshines > 0 {
		if err := e.Repo.IncrementGalaxyBalance(ctx, opts.GalaxyID, "sunshines", opts.Sunshines); err != nil {
			return domain.Issue{}, fmt.Errorf("credit galaxy pool: %w", err)
		}
	}
	if err := e.Events.Append(ctx, "issue.created", i.GalaxyID, "issue", i.ID, opts.ActorID, events.EventPayload{"title": i.Title, "sunshines": i.Sunshines}); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

// SetContributor assigns the contributor role slot on an issue.
func (e Engine) SetContributor(ctx context.Context, issueID, contributorID, actorID string) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return i, err
	}
	if _, err := e.EnsureStakeholder(ctx, contributorID, contributorID, RoleContributor); err != nil {
		return i, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if _, err := e.DB.ExecContext(ctx, `UPDATE issues SET contributor_id=?, updated_at=? WHERE id=?`, contributorID, now, issueID); err != nil {
		return i, fmt.Errorf("set contributor: %w", err)
	}
	i.ContributorID = &contributorID
	i.UpdatedAt = now
	if err := e.Events.Append(ctx, "issue.contributor.set", i.GalaxyID, "issue", i.ID, actorID, events.EventPayload{"contributor_id": contributorID}); err != nil {
		return i, err
	}
	return i, nil
}

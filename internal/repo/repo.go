package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"starforge/internal/config"
	"starforge/internal/domain"
)

// Repo holds the ledger primitives. Every balance mutation is a single
// atomic UPDATE on one row; no method spans two aggregates.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// balanceField guards the two mutable balance columns against
// arbitrary column injection.
func balanceField(field string) (string, error) {
	switch field {
	case "sunshines", "stars":
		return field, nil
	default:
		return "", fmt.Errorf("unknown balance field %q", field)
	}
}

func (r Repo) InsertGalaxy(ctx context.Context, g domain.Galaxy) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO galaxies(id,name,maintainer_id,sunshines,stars,created_at) VALUES (?,?,?,?,?,?)`,
		g.ID, g.Name, g.MaintainerID, g.Sunshines, g.Stars, g.CreatedAt)
	return err
}

func (r Repo) GetGalaxy(ctx context.Context, id string) (domain.Galaxy, error) {
	var g domain.Galaxy
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,maintainer_id,sunshines,stars,created_at FROM galaxies WHERE id=?`, id).
		Scan(&g.ID, &g.Name, &g.MaintainerID, &g.Sunshines, &g.Stars, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	return g, err
}

func (r Repo) ListGalaxies(ctx context.Context) ([]domain.Galaxy, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,maintainer_id,sunshines,stars,created_at FROM galaxies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Galaxy
	for rows.Next() {
		var g domain.Galaxy
		if err := rows.Scan(&g.ID, &g.Name, &g.MaintainerID, &g.Sunshines, &g.Stars, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, nil
}

// SingleGalaxy returns the only galaxy in the workspace, erroring when
// the choice is ambiguous.
func (r Repo) SingleGalaxy(ctx context.Context) (domain.Galaxy, error) {
	galaxies, err := r.ListGalaxies(ctx)
	if err != nil {
		return domain.Galaxy{}, err
	}
	if len(galaxies) == 0 {
		return domain.Galaxy{}, ErrNotFound
	}
	if len(galaxies) > 1 {
		return domain.Galaxy{}, fmt.Errorf("multiple galaxies exist; specify --galaxy")
	}
	return galaxies[0], nil
}

// IncrementGalaxyBalance atomically adds delta to one balance column.
func (r Repo) IncrementGalaxyBalance(ctx context.Context, id, field string, delta float64) error {
	col, err := balanceField(field)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE galaxies SET %s=%s+? WHERE id=?`, col, col), delta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStakeholder(ctx context.Context, s domain.Stakeholder) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO stakeholders(id,nickname,avatar,role,sunshines,stars,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Nickname, nullable(s.Avatar), s.Role, s.Sunshines, s.Stars, s.CreatedAt)
	return err
}

func (r Repo) GetStakeholder(ctx context.Context, id string) (domain.Stakeholder, error) {
	var s domain.Stakeholder
	var avatar sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,nickname,avatar,role,sunshines,stars,created_at FROM stakeholders WHERE id=?`, id).
		Scan(&s.ID, &s.Nickname, &avatar, &s.Role, &s.Sunshines, &s.Stars, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if avatar.Valid {
		s.Avatar = avatar.String
	}
	return s, err
}

// IncrementStakeholderBalance atomically adds delta to one balance
// column. Negative deltas are allowed; use SpendStakeholderSunshines
// when the balance must not go below zero.
func (r Repo) IncrementStakeholderBalance(ctx context.Context, id, field string, delta float64) error {
	col, err := balanceField(field)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE stakeholders SET %s=%s+? WHERE id=?`, col, col), delta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SpendStakeholderSunshines decrements the sunshine balance only if it
// covers the amount. Returns false when the stakeholder is missing or
// the balance is too low.
func (r Repo) SpendStakeholderSunshines(ctx context.Context, id string, amount float64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE stakeholders SET sunshines=sunshines-? WHERE id=? AND sunshines>=?`, amount, id, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) UpsertGalaxyConfig(ctx context.Context, galaxyID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Galaxy.ID = galaxyID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO galaxy_configs(galaxy_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(galaxy_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, galaxyID, string(payload), now, now)
	return err
}

func (r Repo) GetGalaxyConfig(ctx context.Context, galaxyID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM galaxy_configs WHERE galaxy_id=?`, galaxyID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Galaxy.ID == "" {
		cfg.Galaxy.ID = galaxyID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

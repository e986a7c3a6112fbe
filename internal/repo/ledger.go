package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"starforge/internal/domain"
)

// AppendForgeRecord writes one ledger row. Insert-only; records are
// never updated or deleted.
func (r Repo) AppendForgeRecord(ctx context.Context, rec domain.ForgeRecord) error {
	ids, err := json.Marshal(rec.StakeholderIDs)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO forge_records(id,record_type,galaxy_id,issue_id,stakeholder_ids,sunshines_consumed,stars_minted,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Type, rec.GalaxyID, rec.IssueID, string(ids), rec.SunshinesConsumed, rec.StarsMinted, rec.CreatedAt)
	return err
}

func (r Repo) GetForgeRecord(ctx context.Context, id string) (domain.ForgeRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,record_type,galaxy_id,issue_id,stakeholder_ids,sunshines_consumed,stars_minted,created_at FROM forge_records WHERE id=?`, id)
	var rec domain.ForgeRecord
	var ids string
	err := row.Scan(&rec.ID, &rec.Type, &rec.GalaxyID, &rec.IssueID, &ids, &rec.SunshinesConsumed, &rec.StarsMinted, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(ids), &rec.StakeholderIDs); err != nil {
		return rec, fmt.Errorf("decode stakeholder ids for record %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (r Repo) ListForgeRecords(ctx context.Context, galaxyID string) ([]domain.ForgeRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,record_type,galaxy_id,issue_id,stakeholder_ids,sunshines_consumed,stars_minted,created_at FROM forge_records WHERE galaxy_id=? ORDER BY created_at DESC, id DESC`, galaxyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ForgeRecord
	for rows.Next() {
		var rec domain.ForgeRecord
		var ids string
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.GalaxyID, &rec.IssueID, &ids, &rec.SunshinesConsumed, &rec.StarsMinted, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &rec.StakeholderIDs); err != nil {
			return nil, fmt.Errorf("decode stakeholder ids for record %s: %w", rec.ID, err)
		}
		res = append(res, rec)
	}
	return res, nil
}

// UpsertSpacePosition refreshes the presentation cache row for a
// stakeholder in a galaxy.
func (r Repo) UpsertSpacePosition(ctx context.Context, p domain.SpacePosition) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO space_positions(galaxy_id,stakeholder_id,nickname,avatar,role,sunshines,stars,updated_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(galaxy_id,stakeholder_id) DO UPDATE SET nickname=excluded.nickname, avatar=excluded.avatar, role=excluded.role,
sunshines=excluded.sunshines, stars=excluded.stars, updated_at=excluded.updated_at`,
		p.GalaxyID, p.StakeholderID, p.Nickname, nullable(p.Avatar), p.Role, p.Sunshines, p.Stars, p.UpdatedAt)
	return err
}

func (r Repo) ListSpacePositions(ctx context.Context, galaxyID string) ([]domain.SpacePosition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT galaxy_id,stakeholder_id,nickname,avatar,role,sunshines,stars,updated_at FROM space_positions WHERE galaxy_id=? ORDER BY stars DESC, stakeholder_id ASC`, galaxyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SpacePosition
	for rows.Next() {
		var p domain.SpacePosition
		var avatar sql.NullString
		if err := rows.Scan(&p.GalaxyID, &p.StakeholderID, &p.Nickname, &avatar, &p.Role, &p.Sunshines, &p.Stars, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if avatar.Valid {
			p.Avatar = avatar.String
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, galaxyID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if galaxyID != "" {
		clauses = append(clauses, "galaxy_id=?")
		args = append(args, galaxyID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,galaxy_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, galaxyID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if galaxyID != "" {
		clauses = append(clauses, "galaxy_id=?")
		args = append(args, galaxyID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,galaxy_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a galaxy.
func (r Repo) LatestEventID(ctx context.Context, galaxyID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE galaxy_id=?`, galaxyID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var galaxyID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &galaxyID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if galaxyID.Valid {
			e.GalaxyID = galaxyID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

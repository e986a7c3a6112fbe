package repo

import (
	"context"
	"database/sql"

	"starforge/internal/domain"
)

func (r Repo) InsertVersion(ctx context.Context, v domain.Version) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO versions(id,galaxy_id,tag,status,maintainer_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.GalaxyID, v.Tag, v.Status, v.MaintainerID, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, id string) (domain.Version, error) {
	var v domain.Version
	err := r.DB.QueryRowContext(ctx, `SELECT id,galaxy_id,tag,status,maintainer_id,created_at,updated_at FROM versions WHERE id=?`, id).
		Scan(&v.ID, &v.GalaxyID, &v.Tag, &v.Status, &v.MaintainerID, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Patches, err = r.listPatches(ctx, v.ID)
	return v, err
}

// GetVersionByTag resolves a version by its business key within a
// galaxy. Tags are unique per galaxy in practice but not enforced by
// the schema; the most recent one wins.
func (r Repo) GetVersionByTag(ctx context.Context, galaxyID, tag string) (domain.Version, error) {
	var v domain.Version
	err := r.DB.QueryRowContext(ctx, `SELECT id,galaxy_id,tag,status,maintainer_id,created_at,updated_at FROM versions WHERE galaxy_id=? AND tag=? ORDER BY created_at DESC LIMIT 1`, galaxyID, tag).
		Scan(&v.ID, &v.GalaxyID, &v.Tag, &v.Status, &v.MaintainerID, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Patches, err = r.listPatches(ctx, v.ID)
	return v, err
}

func (r Repo) ListVersions(ctx context.Context, galaxyID string) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,galaxy_id,tag,status,maintainer_id,created_at,updated_at FROM versions WHERE galaxy_id=? ORDER BY created_at DESC, id DESC`, galaxyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		var v domain.Version
		if err := rows.Scan(&v.ID, &v.GalaxyID, &v.Tag, &v.Status, &v.MaintainerID, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

func (r Repo) listPatches(ctx context.Context, versionID string) ([]domain.Patch, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT issue_id,title,completed,tested FROM version_patches WHERE version_id=? ORDER BY position ASC`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Patch
	for rows.Next() {
		var p domain.Patch
		if err := rows.Scan(&p.IssueID, &p.Title, &p.Completed, &p.Tested); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateVersionStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE versions SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachPatch appends a patch at the end of the version's list.
// Re-attaching an existing issue is a no-op.
func (r Repo) AttachPatch(ctx context.Context, versionID string, p domain.Patch) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO version_patches(version_id,issue_id,title,completed,tested,position)
VALUES (?,?,?,?,?,(SELECT COALESCE(MAX(position),0)+1 FROM version_patches WHERE version_id=?))`,
		versionID, p.IssueID, p.Title, p.Completed, p.Tested, versionID)
	return err
}

func (r Repo) SetPatchCompleted(ctx context.Context, versionID, issueID string, completed bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE version_patches SET completed=? WHERE version_id=? AND issue_id=?`, completed, versionID, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPatchTested(ctx context.Context, versionID, issueID string, tested bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE version_patches SET tested=? WHERE version_id=? AND issue_id=?`, tested, versionID, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) RemovePatch(ctx context.Context, versionID, issueID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM version_patches WHERE version_id=? AND issue_id=?`, versionID, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

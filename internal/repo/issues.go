package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"starforge/internal/domain"
)

func (r Repo) InsertIssue(ctx context.Context, i domain.Issue) error {
	tags, err := marshalTags(i.ListHistory)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO issues(id,galaxy_id,title,body,author_id,contributor_id,sunshines,stars,list_history,solar_forge_txid,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, i.GalaxyID, i.Title, nullable(i.Body), i.AuthorID, nullableStringPtr(i.ContributorID),
		i.Sunshines, i.Stars, tags, nullableStringPtr(i.SolarForgeTxid), i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,galaxy_id,title,body,author_id,contributor_id,sunshines,stars,list_history,solar_forge_txid,created_at,updated_at FROM issues WHERE id=?`, id)
	return scanIssue(row.Scan)
}

func (r Repo) ListIssues(ctx context.Context, galaxyID string) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,galaxy_id,title,body,author_id,contributor_id,sunshines,stars,list_history,solar_forge_txid,created_at,updated_at FROM issues WHERE galaxy_id=? ORDER BY created_at DESC, id DESC`, galaxyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		i, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, nil
}

func scanIssue(scan func(...any) error) (domain.Issue, error) {
	var i domain.Issue
	var body, contributor, txid sql.NullString
	var tags string
	err := scan(&i.ID, &i.GalaxyID, &i.Title, &body, &i.AuthorID, &contributor, &i.Sunshines, &i.Stars, &tags, &txid, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if body.Valid {
		i.Body = body.String
	}
	if contributor.Valid {
		i.ContributorID = &contributor.String
	}
	if txid.Valid {
		i.SolarForgeTxid = &txid.String
	}
	if err := json.Unmarshal([]byte(tags), &i.ListHistory); err != nil {
		return i, fmt.Errorf("decode list_history for issue %s: %w", i.ID, err)
	}
	if i.ListHistory == nil {
		i.ListHistory = []string{}
	}
	return i, nil
}

// UpdateIssueTags replaces the tag set wholesale.
func (r Repo) UpdateIssueTags(ctx context.Context, id string, tags []string, updatedAt string) error {
	payload, err := marshalTags(tags)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET list_history=?, updated_at=? WHERE id=?`, payload, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddIssueSunshines atomically adds delta to the issue's sunshine pool.
func (r Repo) AddIssueSunshines(ctx context.Context, id string, delta float64, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET sunshines=sunshines+?, updated_at=? WHERE id=?`, delta, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimSolarForge is the atomic claim-if-unset on the idempotency
// marker: in one statement it records the txid, zeroes the sunshine
// pool and credits the minted stars. The claim only lands when the
// pool still holds exactly the consumed amount the stars were computed
// from, so a funding that slips in between read and claim makes the
// caller re-read instead of silently burning the extra sunshines.
// Returns false when another forge already claimed the issue, the pool
// moved, or the pool is empty.
func (r Repo) ClaimSolarForge(ctx context.Context, id, txid string, consumed, stars float64, updatedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET solar_forge_txid=?, sunshines=0, stars=stars+?, updated_at=?
WHERE id=? AND solar_forge_txid IS NULL AND sunshines>0 AND sunshines=?`, txid, stars, updatedAt, id, consumed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) AppendFundingRecord(ctx context.Context, f domain.FundingRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO funding_records(id,issue_id,funder_id,amount,created_at) VALUES (?,?,?,?,?)`,
		f.ID, f.IssueID, f.FunderID, f.Amount, f.CreatedAt)
	return err
}

func (r Repo) DeleteFundingRecord(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM funding_records WHERE id=?`, id)
	return err
}

func (r Repo) ListFundingRecords(ctx context.Context, issueID string) ([]domain.FundingRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,issue_id,funder_id,amount,created_at FROM funding_records WHERE issue_id=? ORDER BY created_at ASC, id ASC`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FundingRecord
	for rows.Next() {
		var f domain.FundingRecord
		if err := rows.Scan(&f.ID, &f.IssueID, &f.FunderID, &f.Amount, &f.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

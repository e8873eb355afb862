package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"prospect-engine/internal/domain"
)

const candidateCols = `c.id, c.name, c.domain, c.industry, c.employees, c.ads_active, c.site_online, c.contact, c.created_at, c.updated_at`

// candidateIdent is the immutable identity used to dedupe ingestion: the
// domain when known, otherwise the normalised company name.
func candidateIdent(c domain.Candidate) string {
	if d := strings.ToLower(strings.TrimSpace(c.Domain)); d != "" {
		return d
	}
	return "name:" + normalizeCompanyKey(c.Name)
}

// UpsertCandidate inserts c or refreshes the classification and raw
// attributes of the existing candidate with the same identity. The stored
// candidate is returned along with whether it was created.
func (d *DB) UpsertCandidate(ctx context.Context, c domain.Candidate, now time.Time) (domain.Candidate, bool, error) {
	if strings.TrimSpace(c.Name) == "" && strings.TrimSpace(c.Domain) == "" {
		return domain.Candidate{}, false, errors.New("upsert candidate: name or domain is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	contact, err := json.Marshal(c.Contact)
	if err != nil {
		return domain.Candidate{}, false, fmt.Errorf("upsert candidate: %w", err)
	}
	ident := candidateIdent(c)

	var created bool
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM candidates WHERE ident = ?;`, ident).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			_, err = tx.ExecContext(ctx, `
INSERT INTO candidates(id, ident, name, domain, industry, employees, ads_active, site_online, contact, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?);`,
				c.ID, ident, strings.TrimSpace(c.Name), strings.ToLower(strings.TrimSpace(c.Domain)), c.Industry,
				c.Employees, boolInt(c.AdsActive), boolInt(c.SiteOnline), string(contact),
				toMillis(now), toMillis(now))
			return err
		case err != nil:
			return err
		}
		c.ID = existing
		_, err = tx.ExecContext(ctx, `
UPDATE candidates SET
  industry = ?, employees = ?, ads_active = ?, site_online = ?, contact = ?, updated_at = ?
WHERE id = ?;`,
			c.Industry, c.Employees, boolInt(c.AdsActive), boolInt(c.SiteOnline), string(contact),
			toMillis(now), existing)
		return err
	})
	if err != nil {
		return domain.Candidate{}, false, fmt.Errorf("upsert candidate: %w", err)
	}
	stored, err := d.GetCandidate(ctx, c.ID)
	return stored, created, err
}

// SetCandidateDomain fills in a domain resolved after ingestion.
func (d *DB) SetCandidateDomain(ctx context.Context, id, host string, now time.Time) error {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE candidates SET domain = ?, updated_at = ? WHERE id = ? AND domain = '';`,
		strings.ToLower(strings.TrimSpace(host)), toMillis(now), id)
	if err != nil {
		return fmt.Errorf("set candidate domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set candidate domain %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (d *DB) GetCandidate(ctx context.Context, id string) (domain.Candidate, error) {
	row := d.Pool.QueryRowContext(ctx, `SELECT `+candidateCols+` FROM candidates c WHERE c.id = ?;`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Candidate{}, fmt.Errorf("candidate %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

func (d *DB) ListCandidates(ctx context.Context, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+candidateCols+` FROM candidates c ORDER BY c.created_at, c.id LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// CandidatesDueForQualification returns candidates with no current score,
// a score computed before staleBefore, or attributes updated since their
// last score. Never-scored candidates come first.
func (d *DB) CandidatesDueForQualification(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+candidateCols+`
FROM candidates c
LEFT JOIN scores s ON s.candidate_id = c.id AND s.superseded_at = 0
WHERE s.run_id IS NULL OR s.computed_at < ? OR c.updated_at > s.computed_at
ORDER BY COALESCE(s.computed_at, 0), c.created_at, c.id
LIMIT ?;`, toMillis(staleBefore), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCandidates(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (domain.Candidate, error) {
	var (
		c                domain.Candidate
		ads, online      int
		contact          string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, &c.Employees, &ads, &online, &contact, &created, &updated); err != nil {
		return domain.Candidate{}, err
	}
	c.AdsActive = ads != 0
	c.SiteOnline = online != 0
	_ = json.Unmarshal([]byte(contact), &c.Contact)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func collectCandidates(rows *sql.Rows) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

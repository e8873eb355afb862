package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// GetCompanyDomain returns the cached resolution for company, or "" if
// none was cached.
func (d *DB) GetCompanyDomain(ctx context.Context, company string) (string, error) {
	company = normalizeCompanyKey(company)
	if company == "" {
		return "", nil
	}

	var host string
	err := d.Pool.QueryRowContext(ctx,
		`SELECT domain FROM company_domains WHERE company = ? LIMIT 1;`,
		company,
	).Scan(&host)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(host), nil
}

func (d *DB) UpsertCompanyDomain(ctx context.Context, company, host string, now time.Time) error {
	company = normalizeCompanyKey(company)
	host = strings.ToLower(strings.TrimSpace(host))
	if company == "" || host == "" {
		return nil
	}

	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO company_domains(company, domain, fetched_at)
VALUES(?,?,?)
ON CONFLICT(company) DO UPDATE SET
  domain = excluded.domain,
  fetched_at = excluded.fetched_at;
`, company, host, toMillis(now))
	return err
}

func normalizeCompanyKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

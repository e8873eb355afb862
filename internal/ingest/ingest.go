// Package ingest loads candidate records from JSON-lines or CSV files.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/enrich"
)

// ReadFile picks a reader from the file extension: .csv is CSV, anything
// else is read as JSON lines.
func ReadFile(path string) ([]domain.CandidateRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadJSONL(f)
}

// ReadJSONL reads one JSON object per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]domain.CandidateRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	var out []domain.CandidateRecord
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec domain.CandidateRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

var csvColumns = map[string]func(*domain.CandidateRecord, string) error{
	"name":     func(r *domain.CandidateRecord, v string) error { r.Name = v; return nil },
	"company":  func(r *domain.CandidateRecord, v string) error { r.Name = v; return nil },
	"domain":   func(r *domain.CandidateRecord, v string) error { r.Domain = v; return nil },
	"website":  func(r *domain.CandidateRecord, v string) error { r.Domain = v; return nil },
	"industry": func(r *domain.CandidateRecord, v string) error { r.Industry = v; return nil },
	"employees": func(r *domain.CandidateRecord, v string) error {
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		r.Employees = n
		return err
	},
	"ads_active":       boolField(func(r *domain.CandidateRecord, b bool) { r.AdsActive = b }),
	"site_online":      boolField(func(r *domain.CandidateRecord, b bool) { r.SiteOnline = b }),
	"contact_name":     func(r *domain.CandidateRecord, v string) error { r.Contact.Name = v; return nil },
	"contact_email":    func(r *domain.CandidateRecord, v string) error { r.Contact.Email = v; return nil },
	"contact_phone":    func(r *domain.CandidateRecord, v string) error { r.Contact.Phone = v; return nil },
	"contact_linkedin": func(r *domain.CandidateRecord, v string) error { r.Contact.LinkedIn = v; return nil },
}

func boolField(set func(*domain.CandidateRecord, bool)) func(*domain.CandidateRecord, string) error {
	return func(r *domain.CandidateRecord, v string) error {
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.ToLower(v))
		set(r, b)
		return err
	}
}

// ReadCSV reads records with a header row. Unknown columns are ignored.
func ReadCSV(r io.Reader) ([]domain.CandidateRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("csv header: %w", err)
	}
	cols := make([]string, len(head))
	for i, h := range head {
		cols[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	var out []domain.CandidateRecord
	for row := 2; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		var rec domain.CandidateRecord
		for i, v := range fields {
			if i >= len(cols) {
				break
			}
			set, ok := csvColumns[cols[i]]
			if !ok {
				continue
			}
			if err := set(&rec, strings.TrimSpace(v)); err != nil {
				return nil, fmt.Errorf("csv row %d column %s: %w", row, cols[i], err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// ToCandidate normalises a record. Records without a name or a usable
// domain are rejected.
func ToCandidate(rec domain.CandidateRecord) (domain.Candidate, error) {
	c := domain.Candidate{
		Name:       strings.TrimSpace(rec.Name),
		Domain:     enrich.NormalizeDomain(rec.Domain),
		Industry:   strings.ToLower(strings.TrimSpace(rec.Industry)),
		Employees:  rec.Employees,
		AdsActive:  rec.AdsActive,
		SiteOnline: rec.SiteOnline,
		Contact: domain.Contact{
			Name:     strings.TrimSpace(rec.Contact.Name),
			Email:    strings.ToLower(strings.TrimSpace(rec.Contact.Email)),
			Phone:    strings.TrimSpace(rec.Contact.Phone),
			LinkedIn: strings.TrimSpace(rec.Contact.LinkedIn),
		},
	}
	if c.Name == "" && c.Domain == "" {
		return c, errors.New("record has neither name nor domain")
	}
	if c.Name == "" {
		c.Name = c.Domain
	}
	return c, nil
}

type Store interface {
	UpsertCandidate(ctx context.Context, c domain.Candidate, now time.Time) (domain.Candidate, bool, error)
}

type Result struct {
	Created int
	Updated int
	Invalid int
}

// Import upserts recs. Invalid records are logged and counted; a store
// failure stops the import.
func Import(ctx context.Context, st Store, recs []domain.CandidateRecord, now time.Time, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var res Result
	for i, rec := range recs {
		c, err := ToCandidate(rec)
		if err != nil {
			res.Invalid++
			log.Warn("skipping record", zap.Int("index", i), zap.Error(err))
			continue
		}
		_, created, err := st.UpsertCandidate(ctx, c, now)
		if err != nil {
			return res, fmt.Errorf("import %q: %w", c.Name, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Batch atomicity comes from single-writer transactions; the
// busy_timeout keeps concurrent readers from failing fast.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN forces immediate transactions so a write transaction takes
// the write lock when it begins. A deferred transaction that upgrades
// from read to write mid-batch can hit SQLITE_BUSY that busy_timeout
// does not cover.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	platform     TEXT NOT NULL,
	country      TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL,
	city_code    TEXT NOT NULL DEFAULT '',
	cuisine      TEXT NOT NULL DEFAULT '',
	leads_limit  INTEGER NOT NULL DEFAULT 0,
	page_offset  INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'draft',
	current_step INTEGER NOT NULL DEFAULT 0,
	total_steps  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	started_at   DATETIME,
	completed_at DATETIME,
	cancelled_at DATETIME
);

CREATE TABLE IF NOT EXISTS job_steps (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	step_number      INTEGER NOT NULL,
	step_name        TEXT NOT NULL,
	step_description TEXT NOT NULL DEFAULT '',
	step_type        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	leads_received   INTEGER NOT NULL DEFAULT 0,
	leads_processed  INTEGER NOT NULL DEFAULT 0,
	leads_passed     INTEGER NOT NULL DEFAULT 0,
	leads_failed     INTEGER NOT NULL DEFAULT 0,
	started_at       DATETIME,
	completed_at     DATETIME,
	UNIQUE (job_id, step_number)
);

CREATE TABLE IF NOT EXISTS leads (
	id                         TEXT PRIMARY KEY,
	job_id                     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	current_step               INTEGER NOT NULL,
	step_progression_status    TEXT NOT NULL DEFAULT 'available',
	restaurant_name            TEXT NOT NULL DEFAULT '',
	platform                   TEXT NOT NULL DEFAULT '',
	city                       TEXT NOT NULL DEFAULT '',
	cuisine                    TEXT NOT NULL DEFAULT '[]',
	rating                     REAL,
	phone                      TEXT NOT NULL DEFAULT '',
	email                      TEXT NOT NULL DEFAULT '',
	address                    TEXT NOT NULL DEFAULT '',
	website                    TEXT NOT NULL DEFAULT '',
	validation_errors          TEXT NOT NULL DEFAULT '[]',
	is_duplicate               INTEGER NOT NULL DEFAULT 0,
	duplicate_of_lead_id       TEXT,
	duplicate_of_restaurant_id TEXT,
	converted_to_restaurant_id TEXT,
	norm_name                  TEXT NOT NULL DEFAULT '',
	norm_city                  TEXT NOT NULL DEFAULT '',
	created_at                 DATETIME NOT NULL,
	updated_at                 DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_job_steps_job ON job_steps(job_id, step_number);
CREATE INDEX IF NOT EXISTS idx_leads_job_step ON leads(job_id, current_step);
CREATE INDEX IF NOT EXISTS idx_leads_norm ON leads(norm_name, norm_city);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.LeadScrapeJob, steps []model.JobStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create job")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, platform, country, city, city_code, cuisine, leads_limit, page_offset,
			status, current_step, total_steps, created_at, started_at, completed_at, cancelled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Platform, job.Country, job.City, job.CityCode, job.Cuisine,
		job.LeadsLimit, job.PageOffset, string(job.Status), job.CurrentStep, job.TotalSteps,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.CancelledAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert job")
	}

	for _, st := range steps {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_steps (id, job_id, step_number, step_name, step_description, step_type,
				status, leads_received, leads_processed, leads_passed, leads_failed, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.JobID, st.StepNumber, st.Name, st.Description, string(st.Type),
			string(st.Status), st.LeadsReceived, st.LeadsProcessed, st.LeadsPassed, st.LeadsFailed,
			st.StartedAt, st.CompletedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert step %d", st.StepNumber)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create job")
}

const jobColumns = `id, platform, country, city, city_code, cuisine, leads_limit, page_offset,
	status, current_step, total_steps, created_at, started_at, completed_at, cancelled_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.LeadScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, filter.Platform)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.LeadScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

const stepColumns = `id, job_id, step_number, step_name, step_description, step_type,
	status, leads_received, leads_processed, leads_passed, leads_failed, started_at, completed_at`

func (s *SQLiteStore) GetStep(ctx context.Context, jobID string, stepNumber int) (*model.JobStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM job_steps WHERE job_id = ? AND step_number = ?`,
		jobID, stepNumber)
	return scanStep(row)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, jobID string) ([]model.JobStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM job_steps WHERE job_id = ? ORDER BY step_number`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list steps")
	}
	defer rows.Close()

	var steps []model.JobStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

const leadColumns = `id, job_id, current_step, step_progression_status, restaurant_name, platform,
	city, cuisine, rating, phone, email, address, website, validation_errors,
	is_duplicate, duplicate_of_lead_id, duplicate_of_restaurant_id, converted_to_restaurant_id,
	created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID)
	lead, err := scanLead(row)
	if err != nil && errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return lead, err
}

func (s *SQLiteStore) GetLeads(ctx context.Context, jobID string, ids []string) ([]model.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, jobID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE job_id = ? AND id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get leads")
	}
	defer rows.Close()
	return collectLeads(rows)
}

// ListLeadsForStep returns leads that have reached the step. The raw
// status filter only makes sense for leads currently occupying the step,
// so setting it narrows to current_step = stepNumber.
func (s *SQLiteStore) ListLeadsForStep(ctx context.Context, jobID string, stepNumber int, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE job_id = ?`
	args := []any{jobID}

	if filter.Status != "" {
		query += ` AND current_step = ? AND step_progression_status = ?`
		args = append(args, stepNumber, string(filter.Status))
	} else {
		query += ` AND current_step >= ?`
		args = append(args, stepNumber)
	}
	if filter.Duplicates != nil {
		query += ` AND is_duplicate = ?`
		args = append(args, boolToInt(*filter.Duplicates))
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads for step")
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context, jobID string, stepNumber int, status model.LeadStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE job_id = ? AND current_step = ? AND step_progression_status = ?`,
		jobID, stepNumber, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count leads by status")
}

func (s *SQLiteStore) FindLeadByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM leads
		 WHERE norm_name = ? AND norm_city = ? AND converted_to_restaurant_id IS NULL
		 ORDER BY created_at LIMIT 1`,
		normName, normCity,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, eris.Wrap(err, "sqlite: find lead by name/city")
}

func (s *SQLiteStore) FindRestaurantByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT converted_to_restaurant_id FROM leads
		 WHERE norm_name = ? AND norm_city = ? AND converted_to_restaurant_id IS NOT NULL
		 ORDER BY created_at LIMIT 1`,
		normName, normCity,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, eris.Wrap(err, "sqlite: find restaurant by name/city")
}

// ApplyBatch commits one engine operation inside a single transaction.
func (s *SQLiteStore) ApplyBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range b.InsertLeads {
		if err := insertLeadTx(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, l := range b.UpsertLeads {
		if err := upsertLeadTx(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, l := range b.UpdateLeads {
		if err := updateLeadTx(ctx, tx, l); err != nil {
			return err
		}
	}
	if len(b.DeleteLeadIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(b.DeleteLeadIDs)), ", ")
		args := make([]any, len(b.DeleteLeadIDs))
		for i, id := range b.DeleteLeadIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM leads WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return eris.Wrap(err, "sqlite: delete leads")
		}
	}
	for _, st := range b.UpdateSteps {
		res, err := tx.ExecContext(ctx,
			`UPDATE job_steps SET status = ?, leads_received = ?, leads_processed = ?,
				leads_passed = ?, leads_failed = ?, started_at = ?, completed_at = ?
			 WHERE id = ?`,
			string(st.Status), st.LeadsReceived, st.LeadsProcessed,
			st.LeadsPassed, st.LeadsFailed, st.StartedAt, st.CompletedAt, st.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update step %d", st.StepNumber)
		}
		if err := checkRowsAffected(res, "step", st.ID); err != nil {
			return err
		}
	}
	if b.UpdateJob != nil {
		j := b.UpdateJob
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, current_step = ?, started_at = ?, completed_at = ?, cancelled_at = ?
			 WHERE id = ?`,
			string(j.Status), j.CurrentStep, j.StartedAt, j.CompletedAt, j.CancelledAt, j.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update job %s", j.ID)
		}
		if err := checkRowsAffected(res, "job", j.ID); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

// helpers

func insertLeadTx(ctx context.Context, tx *sql.Tx, l model.Lead) error {
	cuisineJSON, validationJSON, err := marshalLeadLists(l)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO leads (id, job_id, current_step, step_progression_status, restaurant_name, platform,
			city, cuisine, rating, phone, email, address, website, validation_errors,
			is_duplicate, duplicate_of_lead_id, duplicate_of_restaurant_id, converted_to_restaurant_id,
			norm_name, norm_city, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.JobID, l.CurrentStep, string(l.Status), l.RestaurantName, l.Platform,
		l.City, cuisineJSON, l.Rating, l.Phone, l.Email, l.Address, l.Website, validationJSON,
		boolToInt(l.IsDuplicate), l.DuplicateOfLeadID, l.DuplicateOfRestaurantID, l.ConvertedToRestaurantID,
		dupdetect.NormalizeName(l.RestaurantName), dupdetect.NormalizeCity(l.City),
		l.CreatedAt, l.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
}

// upsertLeadTx inserts a lead, overwriting an existing row with the same
// id. created_at keeps the original row's value on conflict.
func upsertLeadTx(ctx context.Context, tx *sql.Tx, l model.Lead) error {
	cuisineJSON, validationJSON, err := marshalLeadLists(l)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO leads (id, job_id, current_step, step_progression_status, restaurant_name, platform,
			city, cuisine, rating, phone, email, address, website, validation_errors,
			is_duplicate, duplicate_of_lead_id, duplicate_of_restaurant_id, converted_to_restaurant_id,
			norm_name, norm_city, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			current_step = excluded.current_step,
			step_progression_status = excluded.step_progression_status,
			restaurant_name = excluded.restaurant_name,
			city = excluded.city,
			cuisine = excluded.cuisine,
			rating = excluded.rating,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			website = excluded.website,
			validation_errors = excluded.validation_errors,
			is_duplicate = excluded.is_duplicate,
			duplicate_of_lead_id = excluded.duplicate_of_lead_id,
			duplicate_of_restaurant_id = excluded.duplicate_of_restaurant_id,
			converted_to_restaurant_id = excluded.converted_to_restaurant_id,
			norm_name = excluded.norm_name,
			norm_city = excluded.norm_city,
			updated_at = excluded.updated_at`,
		l.ID, l.JobID, l.CurrentStep, string(l.Status), l.RestaurantName, l.Platform,
		l.City, cuisineJSON, l.Rating, l.Phone, l.Email, l.Address, l.Website, validationJSON,
		boolToInt(l.IsDuplicate), l.DuplicateOfLeadID, l.DuplicateOfRestaurantID, l.ConvertedToRestaurantID,
		dupdetect.NormalizeName(l.RestaurantName), dupdetect.NormalizeCity(l.City),
		l.CreatedAt, l.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
}

func updateLeadTx(ctx context.Context, tx *sql.Tx, l model.Lead) error {
	cuisineJSON, validationJSON, err := marshalLeadLists(l)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET current_step = ?, step_progression_status = ?, restaurant_name = ?,
			city = ?, cuisine = ?, rating = ?, phone = ?, email = ?, address = ?, website = ?,
			validation_errors = ?, is_duplicate = ?, duplicate_of_lead_id = ?,
			duplicate_of_restaurant_id = ?, converted_to_restaurant_id = ?,
			norm_name = ?, norm_city = ?, updated_at = ?
		 WHERE id = ?`,
		l.CurrentStep, string(l.Status), l.RestaurantName,
		l.City, cuisineJSON, l.Rating, l.Phone, l.Email, l.Address, l.Website,
		validationJSON, boolToInt(l.IsDuplicate), l.DuplicateOfLeadID,
		l.DuplicateOfRestaurantID, l.ConvertedToRestaurantID,
		dupdetect.NormalizeName(l.RestaurantName), dupdetect.NormalizeCity(l.City),
		l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
	}
	return checkRowsAffected(res, "lead", l.ID)
}

func marshalLeadLists(l model.Lead) (cuisine string, validation string, err error) {
	cb, err := json.Marshal(orEmpty(l.Cuisine))
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal cuisine")
	}
	vb, err := json.Marshal(orEmpty(l.ValidationErrors))
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: marshal validation errors")
	}
	return string(cb), string(vb), nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.LeadScrapeJob, error) {
	var j model.LeadScrapeJob
	var status string
	err := row.Scan(&j.ID, &j.Platform, &j.Country, &j.City, &j.CityCode, &j.Cuisine,
		&j.LeadsLimit, &j.PageOffset, &status, &j.CurrentStep, &j.TotalSteps,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(err, "job not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanStep(row scannable) (*model.JobStep, error) {
	var st model.JobStep
	var status, stepType string
	err := row.Scan(&st.ID, &st.JobID, &st.StepNumber, &st.Name, &st.Description, &stepType,
		&status, &st.LeadsReceived, &st.LeadsProcessed, &st.LeadsPassed, &st.LeadsFailed,
		&st.StartedAt, &st.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(err, "step not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan step")
	}
	st.Status = model.StepStatus(status)
	st.Type = model.StepType(stepType)
	return &st, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var status, cuisineJSON, validationJSON string
	var isDup int
	err := row.Scan(&l.ID, &l.JobID, &l.CurrentStep, &status, &l.RestaurantName, &l.Platform,
		&l.City, &cuisineJSON, &l.Rating, &l.Phone, &l.Email, &l.Address, &l.Website, &validationJSON,
		&isDup, &l.DuplicateOfLeadID, &l.DuplicateOfRestaurantID, &l.ConvertedToRestaurantID,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	l.Status = model.LeadStatus(status)
	l.IsDuplicate = isDup != 0
	if err := json.Unmarshal([]byte(cuisineJSON), &l.Cuisine); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cuisine")
	}
	if err := json.Unmarshal([]byte(validationJSON), &l.ValidationErrors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal validation errors")
	}
	if len(l.Cuisine) == 0 {
		l.Cuisine = nil
	}
	if len(l.ValidationErrors) == 0 {
		l.ValidationErrors = nil
	}
	return &l, nil
}

func collectLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

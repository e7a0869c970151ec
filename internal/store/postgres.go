package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/db"
	"github.com/sells-group/leadgen-cli/internal/dupdetect"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_job":      `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	"get_step":     `SELECT ` + stepColumns + ` FROM job_steps WHERE job_id = $1 AND step_number = $2`,
	"get_lead":     `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"update_job":   `UPDATE jobs SET status = $1, current_step = $2, started_at = $3, completed_at = $4, cancelled_at = $5 WHERE id = $6`,
	"update_step":  `UPDATE job_steps SET status = $1, leads_received = $2, leads_processed = $3, leads_passed = $4, leads_failed = $5, started_at = $6, completed_at = $7 WHERE id = $8`,
	"count_status": `SELECT COUNT(*) FROM leads WHERE job_id = $1 AND current_step = $2 AND step_progression_status = $3`,
}

// copyThreshold is the insert count above which a batch switches from
// row-at-a-time INSERTs to the COPY protocol.
const copyThreshold = 50

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems that
// need direct query access (e.g., bulk lead import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
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
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
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
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
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
	cuisine                    JSONB NOT NULL DEFAULT '[]',
	rating                     DOUBLE PRECISION,
	phone                      TEXT NOT NULL DEFAULT '',
	email                      TEXT NOT NULL DEFAULT '',
	address                    TEXT NOT NULL DEFAULT '',
	website                    TEXT NOT NULL DEFAULT '',
	validation_errors          JSONB NOT NULL DEFAULT '[]',
	is_duplicate               BOOLEAN NOT NULL DEFAULT false,
	duplicate_of_lead_id       TEXT,
	duplicate_of_restaurant_id TEXT,
	converted_to_restaurant_id TEXT,
	norm_name                  TEXT NOT NULL DEFAULT '',
	norm_city                  TEXT NOT NULL DEFAULT '',
	created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_job_steps_job ON job_steps(job_id, step_number);
CREATE INDEX IF NOT EXISTS idx_leads_job_step ON leads(job_id, current_step);
CREATE INDEX IF NOT EXISTS idx_leads_job_step_status ON leads(job_id, current_step, step_progression_status);
CREATE INDEX IF NOT EXISTS idx_leads_norm ON leads(norm_name, norm_city);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.LeadScrapeJob, steps []model.JobStep) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, platform, country, city, city_code, cuisine, leads_limit, page_offset,
			status, current_step, total_steps, created_at, started_at, completed_at, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Platform, job.Country, job.City, job.CityCode, job.Cuisine,
		job.LeadsLimit, job.PageOffset, string(job.Status), job.CurrentStep, job.TotalSteps,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.CancelledAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert job")
	}

	for _, st := range steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO job_steps (id, job_id, step_number, step_name, step_description, step_type,
				status, leads_received, leads_processed, leads_passed, leads_failed, started_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			st.ID, st.JobID, st.StepNumber, st.Name, st.Description, string(st.Type),
			string(st.Status), st.LeadsReceived, st.LeadsProcessed, st.LeadsPassed, st.LeadsFailed,
			st.StartedAt, st.CompletedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert step %d", st.StepNumber)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create job")
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.LeadScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "postgres: job not found %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.LeadScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Platform != "" {
		query += fmt.Sprintf(` AND platform = $%d`, argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.LeadScrapeJob
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) GetStep(ctx context.Context, jobID string, stepNumber int) (*model.JobStep, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM job_steps WHERE job_id = $1 AND step_number = $2`,
		jobID, stepNumber)
	st, err := scanStepRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "postgres: step not found %s/%d", jobID, stepNumber)
		}
		return nil, eris.Wrapf(err, "postgres: get step %s/%d", jobID, stepNumber)
	}
	return st, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, jobID string) ([]model.JobStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM job_steps WHERE job_id = $1 ORDER BY step_number`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list steps")
	}
	defer rows.Close()

	var steps []model.JobStep
	for rows.Next() {
		st, err := scanStepRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID)
	l, err := scanLeadRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return l, nil
}

func (s *PostgresStore) GetLeads(ctx context.Context, jobID string, ids []string) ([]model.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE job_id = $1 AND id = ANY($2)`,
		jobID, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get leads")
	}
	defer rows.Close()
	return collectLeadRows(rows)
}

// ListLeadsForStep returns leads that have reached the step. The raw
// status filter only makes sense for leads currently occupying the step,
// so setting it narrows to current_step = stepNumber.
func (s *PostgresStore) ListLeadsForStep(ctx context.Context, jobID string, stepNumber int, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE job_id = $1`
	args := []any{jobID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND current_step = $%d AND step_progression_status = $%d`, argIdx, argIdx+1)
		args = append(args, stepNumber, string(filter.Status))
		argIdx += 2
	} else {
		query += fmt.Sprintf(` AND current_step >= $%d`, argIdx)
		args = append(args, stepNumber)
		argIdx++
	}
	if filter.Duplicates != nil {
		query += fmt.Sprintf(` AND is_duplicate = $%d`, argIdx)
		args = append(args, *filter.Duplicates)
		argIdx++
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads for step")
	}
	defer rows.Close()
	return collectLeadRows(rows)
}

func (s *PostgresStore) CountLeadsByStatus(ctx context.Context, jobID string, stepNumber int, status model.LeadStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM leads WHERE job_id = $1 AND current_step = $2 AND step_progression_status = $3`,
		jobID, stepNumber, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count leads by status")
}

func (s *PostgresStore) FindLeadByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM leads
		 WHERE norm_name = $1 AND norm_city = $2 AND converted_to_restaurant_id IS NULL
		 ORDER BY created_at LIMIT 1`,
		normName, normCity,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, eris.Wrap(err, "postgres: find lead by name/city")
}

func (s *PostgresStore) FindRestaurantByNormalizedNameCity(ctx context.Context, normName, normCity string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT converted_to_restaurant_id FROM leads
		 WHERE norm_name = $1 AND norm_city = $2 AND converted_to_restaurant_id IS NOT NULL
		 ORDER BY created_at LIMIT 1`,
		normName, normCity,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, eris.Wrap(err, "postgres: find restaurant by name/city")
}

// ApplyBatch commits one engine operation inside a single transaction.
// Step rows are locked up front so two operations touching the same
// step counters serialize at the database even across processes.
func (s *PostgresStore) ApplyBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer tx.Rollback(ctx)

	if ids := stepIDs(b.UpdateSteps); len(ids) > 0 {
		if _, err := tx.Exec(ctx,
			`SELECT id FROM job_steps WHERE id = ANY($1) FOR UPDATE`, ids); err != nil {
			return eris.Wrap(err, "postgres: lock steps")
		}
	}

	if err := insertLeadsPG(ctx, tx, b.InsertLeads); err != nil {
		return err
	}
	if err := upsertLeadsPG(ctx, tx, b.UpsertLeads); err != nil {
		return err
	}
	for _, l := range b.UpdateLeads {
		if err := updateLeadPG(ctx, tx, l); err != nil {
			return err
		}
	}
	if len(b.DeleteLeadIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM leads WHERE id = ANY($1)`, b.DeleteLeadIDs); err != nil {
			return eris.Wrap(err, "postgres: delete leads")
		}
	}
	for _, st := range b.UpdateSteps {
		tag, err := tx.Exec(ctx,
			`UPDATE job_steps SET status = $1, leads_received = $2, leads_processed = $3,
				leads_passed = $4, leads_failed = $5, started_at = $6, completed_at = $7
			 WHERE id = $8`,
			string(st.Status), st.LeadsReceived, st.LeadsProcessed,
			st.LeadsPassed, st.LeadsFailed, st.StartedAt, st.CompletedAt, st.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update step %d", st.StepNumber)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("step not found: %s", st.ID)
		}
	}
	if b.UpdateJob != nil {
		j := b.UpdateJob
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET status = $1, current_step = $2, started_at = $3, completed_at = $4, cancelled_at = $5
			 WHERE id = $6`,
			string(j.Status), j.CurrentStep, j.StartedAt, j.CompletedAt, j.CancelledAt, j.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update job %s", j.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("job not found: %s", j.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

// leadInsertColumns is the column order shared by the INSERT and COPY
// ingestion paths.
var leadInsertColumns = []string{
	"id", "job_id", "current_step", "step_progression_status", "restaurant_name", "platform",
	"city", "cuisine", "rating", "phone", "email", "address", "website", "validation_errors",
	"is_duplicate", "duplicate_of_lead_id", "duplicate_of_restaurant_id", "converted_to_restaurant_id",
	"norm_name", "norm_city", "created_at", "updated_at",
}

func leadRow(l model.Lead) ([]any, error) {
	cuisineJSON, err := json.Marshal(orEmpty(l.Cuisine))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal cuisine")
	}
	validationJSON, err := json.Marshal(orEmpty(l.ValidationErrors))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal validation errors")
	}
	return []any{
		l.ID, l.JobID, l.CurrentStep, string(l.Status), l.RestaurantName, l.Platform,
		l.City, cuisineJSON, l.Rating, l.Phone, l.Email, l.Address, l.Website, validationJSON,
		l.IsDuplicate, l.DuplicateOfLeadID, l.DuplicateOfRestaurantID, l.ConvertedToRestaurantID,
		dupdetect.NormalizeName(l.RestaurantName), dupdetect.NormalizeCity(l.City),
		l.CreatedAt, l.UpdatedAt,
	}, nil
}

func insertLeadsPG(ctx context.Context, tx pgx.Tx, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		row, err := leadRow(l)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if len(rows) >= copyThreshold {
		_, err := db.CopyFrom(ctx, tx, "leads", leadInsertColumns, rows)
		return err
	}

	placeholders := make([]string, len(leadInsertColumns))
	for i := range leadInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf(`INSERT INTO leads (%s) VALUES (%s)`,
		joinColumns(leadInsertColumns), joinColumns(placeholders))
	for i, row := range rows {
		if _, err := tx.Exec(ctx, insertSQL, row...); err != nil {
			return eris.Wrapf(err, "postgres: insert lead %s", leads[i].ID)
		}
	}
	return nil
}

func updateLeadPG(ctx context.Context, tx pgx.Tx, l model.Lead) error {
	cuisineJSON, err := json.Marshal(orEmpty(l.Cuisine))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cuisine")
	}
	validationJSON, err := json.Marshal(orEmpty(l.ValidationErrors))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation errors")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE leads SET current_step = $1, step_progression_status = $2, restaurant_name = $3,
			city = $4, cuisine = $5, rating = $6, phone = $7, email = $8, address = $9, website = $10,
			validation_errors = $11, is_duplicate = $12, duplicate_of_lead_id = $13,
			duplicate_of_restaurant_id = $14, converted_to_restaurant_id = $15,
			norm_name = $16, norm_city = $17, updated_at = $18
		 WHERE id = $19`,
		l.CurrentStep, string(l.Status), l.RestaurantName,
		l.City, cuisineJSON, l.Rating, l.Phone, l.Email, l.Address, l.Website,
		validationJSON, l.IsDuplicate, l.DuplicateOfLeadID,
		l.DuplicateOfRestaurantID, l.ConvertedToRestaurantID,
		dupdetect.NormalizeName(l.RestaurantName), dupdetect.NormalizeCity(l.City),
		l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", l.ID)
	}
	return nil
}

// upsertLeadsPG writes leads keyed on id through the temp-table merge
// helper so re-imported rows overwrite instead of erroring on the key.
func upsertLeadsPG(ctx context.Context, tx pgx.Tx, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(leads))
	for _, l := range leads {
		row, err := leadRow(l)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	// created_at stays out of the update set so a conflicting row keeps
	// its original value.
	updateCols := make([]string, 0, len(leadInsertColumns))
	for _, c := range leadInsertColumns {
		if c == "id" || c == "created_at" {
			continue
		}
		updateCols = append(updateCols, c)
	}

	_, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        "leads",
		Columns:      leadInsertColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   updateCols,
	}, rows)
	return err
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func scanJobRow(row scannable) (*model.LeadScrapeJob, error) {
	var j model.LeadScrapeJob
	var status string
	err := row.Scan(&j.ID, &j.Platform, &j.Country, &j.City, &j.CityCode, &j.Cuisine,
		&j.LeadsLimit, &j.PageOffset, &status, &j.CurrentStep, &j.TotalSteps,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.CancelledAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}

func scanStepRow(row scannable) (*model.JobStep, error) {
	var st model.JobStep
	var status, stepType string
	err := row.Scan(&st.ID, &st.JobID, &st.StepNumber, &st.Name, &st.Description, &stepType,
		&status, &st.LeadsReceived, &st.LeadsProcessed, &st.LeadsPassed, &st.LeadsFailed,
		&st.StartedAt, &st.CompletedAt)
	if err != nil {
		return nil, err
	}
	st.Status = model.StepStatus(status)
	st.Type = model.StepType(stepType)
	return &st, nil
}

func scanLeadRow(row scannable) (*model.Lead, error) {
	var l model.Lead
	var status string
	var cuisineJSON, validationJSON []byte
	err := row.Scan(&l.ID, &l.JobID, &l.CurrentStep, &status, &l.RestaurantName, &l.Platform,
		&l.City, &cuisineJSON, &l.Rating, &l.Phone, &l.Email, &l.Address, &l.Website, &validationJSON,
		&l.IsDuplicate, &l.DuplicateOfLeadID, &l.DuplicateOfRestaurantID, &l.ConvertedToRestaurantID,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	if err := json.Unmarshal(cuisineJSON, &l.Cuisine); err != nil {
		return nil, eris.Wrap(err, "unmarshal cuisine")
	}
	if err := json.Unmarshal(validationJSON, &l.ValidationErrors); err != nil {
		return nil, eris.Wrap(err, "unmarshal validation errors")
	}
	if len(l.Cuisine) == 0 {
		l.Cuisine = nil
	}
	if len(l.ValidationErrors) == 0 {
		l.ValidationErrors = nil
	}
	return &l, nil
}

func collectLeadRows(rows pgx.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLeadRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func stepIDs(steps []model.JobStep) []string {
	if len(steps) == 0 {
		return nil
	}
	ids := make([]string, len(steps))
	for i, st := range steps {
		ids[i] = st.ID
	}
	return ids
}

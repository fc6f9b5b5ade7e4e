package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// JobRepo stores the print job log.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a SQL-backed job log.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	JobID       string `db:"job_id"`
	Address     string `db:"address"`
	Format      string `db:"format"`
	Success     bool   `db:"success"`
	Code        string `db:"code"`
	Attempts    int    `db:"attempts"`
	ElapsedMs   int64  `db:"elapsed_ms"`
	Corrections string `db:"corrections"`
	CreatedAt   int64  `db:"created_at"`
}

func (r jobRow) toDomain() domain.JobRecord {
	rec := domain.JobRecord{
		JobID:     r.JobID,
		Address:   r.Address,
		Format:    domain.Format(r.Format),
		Success:   r.Success,
		Code:      domain.ErrorCode(r.Code),
		Attempts:  r.Attempts,
		Elapsed:   time.Duration(r.ElapsedMs) * time.Millisecond,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.Corrections != "" {
		rec.Corrections = strings.Split(r.Corrections, ",")
	}
	return rec
}

// Record inserts a job. Re-recording the same job id overwrites it.
func (r *JobRepo) Record(ctx context.Context, rec domain.JobRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := jobRow{
		JobID:       rec.JobID,
		Address:     rec.Address,
		Format:      string(rec.Format),
		Success:     rec.Success,
		Code:        string(rec.Code),
		Attempts:    rec.Attempts,
		ElapsedMs:   rec.Elapsed.Milliseconds(),
		Corrections: strings.Join(rec.Corrections, ","),
		CreatedAt:   created.UnixMilli(),
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO print_jobs (job_id, address, format, success, code, attempts, elapsed_ms, corrections, created_at)
		VALUES (:job_id, :address, :format, :success, :code, :attempts, :elapsed_ms, :corrections, :created_at)
		ON CONFLICT (job_id) DO UPDATE SET
			success = excluded.success,
			code = excluded.code,
			attempts = excluded.attempts,
			elapsed_ms = excluded.elapsed_ms,
			corrections = excluded.corrections`, row)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.JobID, err)
	}
	return nil
}

// Recent returns the newest jobs for address, newest first. An empty address
// matches every printer.
func (r *JobRepo) Recent(ctx context.Context, address string, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows []jobRow
		err  error
	)
	const cols = `job_id, address, format, success, code, attempts, elapsed_ms, corrections, created_at`
	if address == "" {
		err = r.db.SelectContext(ctx, &rows,
			r.db.Rebind(`SELECT `+cols+` FROM print_jobs ORDER BY created_at DESC LIMIT ?`), limit)
	} else {
		err = r.db.SelectContext(ctx, &rows,
			r.db.Rebind(`SELECT `+cols+` FROM print_jobs WHERE address = ? ORDER BY created_at DESC LIMIT ?`),
			address, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	out := make([]domain.JobRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// PruneBefore deletes jobs created before cutoff.
func (r *JobRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM print_jobs WHERE created_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return res.RowsAffected()
}

package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRoster reads the directory service's students table.
type PGRoster struct {
	pool *pgxpool.Pool
}

// NewPGRoster constructs a roster reader.
func NewPGRoster(pool *pgxpool.Pool) *PGRoster {
	return &PGRoster{pool: pool}
}

// ActiveStudents lists active students of a class ordered by id.
func (r *PGRoster) ActiveStudents(ctx context.Context, classID int64) ([]Student, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, admission_number, class_id, COALESCE(section, '')
FROM students WHERE class_id = $1 AND active ORDER BY id`, classID)
	if err != nil {
		return nil, fmt.Errorf("ledger: active students: %w", err)
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.AdmissionNumber, &st.ClassID, &st.Section); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

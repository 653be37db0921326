package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
)

const resourceColumns = `id,employee_id,name,email,status,created_at,updated_at`

func scanResource(row rowScanner) (domain.Resource, error) {
	var res domain.Resource
	err := row.Scan(&res.ID, &res.EmployeeID, &res.Name, &res.Email, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	return res, err
}

type ResourceFilters struct {
	Status string
	Search string
	Limit  int
}

func (r Repo) InsertResourceTx(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(`+resourceColumns+`) VALUES (?,?,?,?,?,?,?)`,
		res.ID, res.EmployeeID, res.Name, strings.ToLower(strings.TrimSpace(res.Email)), res.Status, res.CreatedAt, res.UpdatedAt)
	return err
}

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) ListResources(ctx context.Context, f ResourceFilters) ([]domain.Resource, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, "(name LIKE ? OR email LIKE ? OR employee_id LIKE ?)")
		like := "%" + s + "%"
		args = append(args, like, like, like)
	}
	query := `SELECT ` + resourceColumns + ` FROM resources` + where(clauses) + ` ORDER BY employee_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ResourceIDs returns every resource id; reconciliation walks them one transaction at a time.
func (r Repo) ResourceIDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM resources ORDER BY id`)
}

func (r Repo) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r Repo) CountResourcesTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n)
	return n, err
}

func (r Repo) EmployeeIDExistsTx(ctx context.Context, tx *sql.Tx, employeeID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE employee_id=?`, employeeID).Scan(&n)
	return n > 0, err
}

// ResourceEmailTakenTx reports whether another resource already uses email.
func (r Repo) ResourceEmailTakenTx(ctx context.Context, tx *sql.Tx, email, exceptID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE email=? AND id<>?`,
		strings.ToLower(strings.TrimSpace(email)), exceptID).Scan(&n)
	return n > 0, err
}

func (r Repo) UpdateResourceTx(ctx context.Context, tx *sql.Tx, id string, name, email *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if email != nil {
		fields = append(fields, "email=?")
		args = append(args, strings.ToLower(strings.TrimSpace(*email)))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE resources SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) SetResourceStatusTx(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resources SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteResourceTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CountResourcesByStatus returns resource counts keyed by status.
func (r Repo) CountResourcesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM resources GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, err
		}
		res[status] = c
	}
	return res, rows.Err()
}

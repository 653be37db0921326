package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
)

const projectColumns = `id,name,client_name,COALESCE(description,''),owner_id,status,ever_staffed,created_at,updated_at,COALESCE(closed_at,'')`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var staffed int
	err := row.Scan(&p.ID, &p.Name, &p.ClientName, &p.Description, &p.OwnerID, &p.Status, &staffed, &p.CreatedAt, &p.UpdatedAt, &p.ClosedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.EverStaffed = staffed != 0
	return p, err
}

type ProjectFilters struct {
	Status  string
	OwnerID string
}

// ProjectUpdate lists optional field changes; nil leaves a field untouched.
type ProjectUpdate struct {
	Name        *string
	ClientName  *string
	Description *string
	Status      *string
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	staffed := 0
	if p.EverStaffed {
		staffed = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,client_name,description,owner_id,status,ever_staffed,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.ClientName, nullable(p.Description), p.OwnerID, p.Status, staffed, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects`+where(clauses)+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// OpenStaffedProjectIDs returns ids of projects that are not CLOSED and have been staffed at least once.
func (r Repo) OpenStaffedProjectIDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM projects p WHERE status<>? AND (ever_staffed=1 OR EXISTS (SELECT 1 FROM assignments a WHERE a.project_id=p.id)) ORDER BY id`, domain.ProjectClosed)
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id string, u ProjectUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.ClientName != nil {
		fields = append(fields, "client_name=?")
		args = append(args, *u.ClientName)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CloseProjectTx moves a project to CLOSED; it never touches an already closed row.
func (r Repo) CloseProjectTx(ctx context.Context, tx *sql.Tx, id, ts string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, closed_at=?, updated_at=? WHERE id=? AND status<>?`,
		domain.ProjectClosed, ts, ts, id, domain.ProjectClosed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) MarkProjectStaffedTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET ever_staffed=1 WHERE id=? AND ever_staffed=0`, id)
	return err
}

// ProjectEverStaffedTx reports whether the project has had at least one assignment.
func (r Repo) ProjectEverStaffedTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT
  COALESCE((SELECT ever_staffed FROM projects WHERE id=?),0) +
  (SELECT COUNT(*) FROM assignments WHERE project_id=?)`, id, id).Scan(&n)
	return n > 0, err
}

func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CountProjectsByStatus returns project counts keyed by status, optionally for one owner.
func (r Repo) CountProjectsByStatus(ctx context.Context, ownerID string) (map[string]int, error) {
	var clauses []string
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM projects`+where(clauses)+` GROUP BY status`, args...)
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

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
)

const assignmentColumns = `a.id,a.resource_id,a.project_id,a.role,a.start_date,a.end_date,a.status,a.created_at,a.updated_at`

func scanAssignment(row rowScanner) (domain.Assignment, error) {
	var a domain.Assignment
	err := row.Scan(&a.ID, &a.ResourceID, &a.ProjectID, &a.Role, &a.StartDate, &a.EndDate, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// AssignmentFilters narrows ListAssignments. EndFrom/EndTo are inclusive dates.
type AssignmentFilters struct {
	Status     string
	ResourceID string
	ProjectID  string
	OwnerID    string
	Role       string
	EndFrom    string
	EndTo      string
	Limit      int
}

// AssignmentDetail is an assignment joined with display names.
type AssignmentDetail struct {
	domain.Assignment
	EmployeeID   string `json:"employee_id"`
	ResourceName string `json:"resource_name"`
	ProjectName  string `json:"project_name"`
	ClientName   string `json:"client_name"`
}

func (f AssignmentFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "a.status=?")
		args = append(args, f.Status)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "a.resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "a.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "p.owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Role != "" {
		clauses = append(clauses, "a.role=?")
		args = append(args, f.Role)
	}
	if f.EndFrom != "" {
		clauses = append(clauses, "a.end_date>=?")
		args = append(args, f.EndFrom)
	}
	if f.EndTo != "" {
		clauses = append(clauses, "a.end_date<=?")
		args = append(args, f.EndTo)
	}
	return clauses, args
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id,resource_id,project_id,role,start_date,end_date,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ResourceID, a.ProjectID, a.Role, a.StartDate, a.EndDate, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments a WHERE a.id=?`, id))
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments a WHERE a.id=?`, id))
}

func (r Repo) ListAssignments(ctx context.Context, f AssignmentFilters) ([]domain.Assignment, error) {
	clauses, args := f.clauses()
	query := `SELECT ` + assignmentColumns + ` FROM assignments a JOIN projects p ON p.id=a.project_id` + where(clauses) + ` ORDER BY a.end_date, a.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListAssignmentDetails is ListAssignments joined with resource and project names.
func (r Repo) ListAssignmentDetails(ctx context.Context, f AssignmentFilters) ([]AssignmentDetail, error) {
	clauses, args := f.clauses()
	query := `SELECT ` + assignmentColumns + `, res.employee_id, res.name, p.name, p.client_name
FROM assignments a
JOIN projects p ON p.id=a.project_id
JOIN resources res ON res.id=a.resource_id` + where(clauses) + ` ORDER BY a.end_date, a.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AssignmentDetail
	for rows.Next() {
		var d AssignmentDetail
		a := &d.Assignment
		if err := rows.Scan(&a.ID, &a.ResourceID, &a.ProjectID, &a.Role, &a.StartDate, &a.EndDate, &a.Status, &a.CreatedAt, &a.UpdatedAt,
			&d.EmployeeID, &d.ResourceName, &d.ProjectName, &d.ClientName); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// AssignmentIDs returns every assignment id in a stable order.
func (r Repo) AssignmentIDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM assignments ORDER BY created_at, id`)
}

func (r Repo) UpdateAssignmentTx(ctx context.Context, tx *sql.Tx, id string, endDate, status *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if endDate != nil {
		fields = append(fields, "end_date=?")
		args = append(args, *endDate)
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE assignments SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) CountActiveByResourceTx(ctx context.Context, tx *sql.Tx, resourceID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE resource_id=? AND status=?`, resourceID, domain.AssignmentActive).Scan(&n)
	return n, err
}

func (r Repo) CountActiveByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE project_id=? AND status=?`, projectID, domain.AssignmentActive).Scan(&n)
	return n, err
}

// ActiveTripleExistsTx reports an ACTIVE assignment for (resource, project, role) other than exceptID.
func (r Repo) ActiveTripleExistsTx(ctx context.Context, tx *sql.Tx, resourceID, projectID, role, exceptID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE resource_id=? AND project_id=? AND role=? AND status=? AND id<>?`,
		resourceID, projectID, role, domain.AssignmentActive, exceptID).Scan(&n)
	return n > 0, err
}

func (r Repo) DeleteAssignmentsByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE project_id=?`, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DeleteAssignmentsByResourceTx(ctx context.Context, tx *sql.Tx, resourceID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE resource_id=?`, resourceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

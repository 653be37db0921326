package repo

import (
	"context"
	"database/sql"
	"strings"

	"staffline/internal/domain"
)

const requestColumns = `id,type,status,requester_id,project_id,resource_id,COALESCE(role,''),assignment_id,
COALESCE(start_date,''),COALESCE(current_end_date,''),COALESCE(new_end_date,''),COALESCE(reason,''),COALESCE(rejection_reason,''),
COALESCE(project_name,''),COALESCE(client_name,''),COALESCE(description,''),COALESCE(decided_by,''),COALESCE(decided_at,''),created_at`

func scanRequest(row rowScanner) (domain.AssignmentRequest, error) {
	var req domain.AssignmentRequest
	var projectID, resourceID, assignmentID sql.NullString
	err := row.Scan(&req.ID, &req.Type, &req.Status, &req.RequesterID, &projectID, &resourceID, &req.Role, &assignmentID,
		&req.StartDate, &req.CurrentEndDate, &req.NewEndDate, &req.Reason, &req.RejectionReason,
		&req.ProjectName, &req.ClientName, &req.Description, &req.DecidedBy, &req.DecidedAt, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	req.ProjectID = stringPtr(projectID)
	req.ResourceID = stringPtr(resourceID)
	req.AssignmentID = stringPtr(assignmentID)
	return req, err
}

type RequestFilters struct {
	Status       string
	Type         string
	RequesterID  string
	ProjectID    string
	AssignmentID string
	Limit        int
}

// InsertRequestTx stores the request together with its plan items.
func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.AssignmentRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignment_requests(id,type,status,requester_id,project_id,resource_id,role,assignment_id,
start_date,current_end_date,new_end_date,reason,rejection_reason,project_name,client_name,description,decided_by,decided_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Type, req.Status, req.RequesterID, nullableStringPtr(req.ProjectID), nullableStringPtr(req.ResourceID),
		nullable(req.Role), nullableStringPtr(req.AssignmentID), nullable(req.StartDate), nullable(req.CurrentEndDate),
		nullable(req.NewEndDate), nullable(req.Reason), nullable(req.RejectionReason), nullable(req.ProjectName),
		nullable(req.ClientName), nullable(req.Description), nullable(req.DecidedBy), nullable(req.DecidedAt), req.CreatedAt)
	if err != nil {
		return err
	}
	for i, item := range req.Plan {
		if _, err := tx.ExecContext(ctx, `INSERT INTO request_plan_items(request_id,position,resource_id,role,start_date,end_date) VALUES (?,?,?,?,?,?)`,
			req.ID, i, item.ResourceID, item.Role, item.StartDate, item.EndDate); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.AssignmentRequest, error) {
	return r.getRequest(ctx, r.DB, id)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.AssignmentRequest, error) {
	return r.getRequest(ctx, tx, id)
}

func (r Repo) getRequest(ctx context.Context, q queryer, id string) (domain.AssignmentRequest, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM assignment_requests WHERE id=?`, id))
	if err != nil {
		return req, err
	}
	if req.Type == domain.RequestProject {
		req.Plan, err = r.planItems(ctx, q, id)
	}
	return req, err
}

func (r Repo) planItems(ctx context.Context, q queryer, requestID string) ([]domain.PlanItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT position,resource_id,role,start_date,end_date FROM request_plan_items WHERE request_id=? ORDER BY position`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.PlanItem
	for rows.Next() {
		var it domain.PlanItem
		if err := rows.Scan(&it.Position, &it.ResourceID, &it.Role, &it.StartDate, &it.EndDate); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.AssignmentRequest, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.AssignmentID != "" {
		clauses = append(clauses, "assignment_id=?")
		args = append(args, f.AssignmentID)
	}
	query := `SELECT ` + requestColumns + ` FROM assignment_requests` + where(clauses) + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.AssignmentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Type != domain.RequestProject {
			continue
		}
		if res[i].Plan, err = r.planItems(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// DecideRequestTx flips a PENDING request to status. It reports false when the
// request was no longer PENDING.
func (r Repo) DecideRequestTx(ctx context.Context, tx *sql.Tx, id, status, rejectionReason, decidedBy, decidedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE assignment_requests SET status=?, rejection_reason=?, decided_by=?, decided_at=? WHERE id=? AND status=?`,
		status, nullable(rejectionReason), decidedBy, decidedAt, id, domain.RequestPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetRequestProjectTx(ctx context.Context, tx *sql.Tx, id, projectID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignment_requests SET project_id=? WHERE id=?`, projectID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// PendingAssignExistsTx reports a PENDING ASSIGN request for (resource, project, role).
func (r Repo) PendingAssignExistsTx(ctx context.Context, tx *sql.Tx, resourceID, projectID, role, exceptID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignment_requests
WHERE type=? AND status=? AND resource_id=? AND project_id=? AND role=? AND id<>?`,
		domain.RequestAssign, domain.RequestPending, resourceID, projectID, role, exceptID).Scan(&n)
	return n > 0, err
}

// PendingForAssignmentTx reports a PENDING request of one of types referencing assignmentID.
func (r Repo) PendingForAssignmentTx(ctx context.Context, tx *sql.Tx, assignmentID, exceptID string, types ...string) (bool, error) {
	if len(types) == 0 {
		return false, nil
	}
	args := []any{domain.RequestPending, assignmentID, exceptID}
	marks := make([]string, len(types))
	for i, t := range types {
		marks[i] = "?"
		args = append(args, t)
	}
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignment_requests WHERE status=? AND assignment_id=? AND id<>? AND type IN (`+strings.Join(marks, ",")+`)`,
		args...).Scan(&n)
	return n > 0, err
}

// CountPendingRequests counts PENDING requests, optionally for one requester.
func (r Repo) CountPendingRequests(ctx context.Context, requesterID string) (int, error) {
	clauses := []string{"status=?"}
	args := []any{domain.RequestPending}
	if requesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, requesterID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignment_requests`+where(clauses), args...).Scan(&n)
	return n, err
}

func (r Repo) SetRequestAssignmentTx(ctx context.Context, tx *sql.Tx, id, assignmentID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE assignment_requests SET assignment_id=? WHERE id=?`, assignmentID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

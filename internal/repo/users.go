package repo

import (
	"context"
	"database/sql"
	"strings"

	"staffline/internal/domain"
)

const userColumns = `id,name,email,user_type,created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Type, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Type, u.CreatedAt)
	return err
}

// EnsureUserTx inserts the user unless one with the same id already exists.
func (r Repo) EnsureUserTx(ctx context.Context, tx *sql.Tx, u domain.User) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(`+userColumns+`) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Type, u.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.getUser(ctx, r.DB, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return r.getUser(ctx, tx, id)
}

func (r Repo) getUser(ctx context.Context, q queryer, id string) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

// ListUsers returns users, optionally filtered by type.
func (r Repo) ListUsers(ctx context.Context, userType string) ([]domain.User, error) {
	var clauses []string
	var args []any
	if userType != "" {
		clauses = append(clauses, "user_type=?")
		args = append(args, userType)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users`+where(clauses)+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// CountProjectsOwnedTx counts the projects owned by userID.
func (r Repo) CountProjectsOwnedTx(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id=?`, userID).Scan(&n)
	return n, err
}

// DeleteUserTx removes the user; API keys go with it.
func (r Repo) DeleteUserTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

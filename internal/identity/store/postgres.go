package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"togoretrouve/internal/identity/models"
	"togoretrouve/internal/platform/postgres"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/platform/sentinel"
)

// Postgres persists users in the users table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, structure_id, active, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, u *models.User) error {
	_, err := postgres.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		string(u.Role), u.StructureID, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, "users_email_key") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := postgres.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Execute locks the row with SELECT ... FOR UPDATE and writes back the mutated user.
func (s *Postgres) Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	var out *models.User
	err := postgres.InTx(ctx, s.db, func(exec postgres.Executor) error {
		u, err := scanUser(exec.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
		if err != nil {
			return err
		}
		if err := validate(u); err != nil {
			return err
		}
		mutate(u)

		if _, err := exec.ExecContext(ctx, `
			UPDATE users SET first_name = $2, last_name = $3, phone = $4, role = $5,
				structure_id = $6, active = $7, password_hash = $8, updated_at = $9
			WHERE id = $1`,
			u.ID, u.FirstName, u.LastName, u.Phone, string(u.Role),
			u.StructureID, u.Active, u.PasswordHash, u.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.User, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1 = '' OR role = $1) AND ($2::uuid IS NULL OR structure_id = $2)
		ORDER BY created_at, id`,
		string(filter.Role), filter.StructureID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return scanUsers(rows)
}

func (s *Postgres) ListStaffByStructure(ctx context.Context, structureID id.StructureID) ([]*models.User, error) {
	rows, err := postgres.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE structure_id = $1 AND role IN ('agent', 'admin') AND active
		ORDER BY created_at, id`,
		structureID,
	)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return scanUsers(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&role, &u.StructureID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*models.User, error) {
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

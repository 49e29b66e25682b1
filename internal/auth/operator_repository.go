package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/enterprise/risk-engine/internal/repositories"
)

// ErrOperatorNotFound is returned when no operator matches a lookup.
var ErrOperatorNotFound = errors.New("operator not found")

// ErrOperatorAlreadyExists is returned when an operator's email is already
// provisioned.
var ErrOperatorAlreadyExists = errors.New("operator already exists")

// Operator is an authenticated principal for the admin/analyst HTTP surface —
// there is no self-serve customer registration in this domain, operators are
// provisioned by an existing admin.
type Operator struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// OperatorRepository persists operator credentials.
type OperatorRepository struct {
	db *repositories.Database
}

// NewOperatorRepository creates a new operator repository.
func NewOperatorRepository(db *repositories.Database) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator, rejecting a duplicate email.
func (r *OperatorRepository) Create(ctx context.Context, op *Operator) error {
	op.ID = uuid.New()
	op.CreatedAt = time.Now()

	query := `INSERT INTO operators (id, email, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, query, op.ID, op.Email, op.PasswordHash, op.Role, op.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrOperatorAlreadyExists
	}
	return err
}

// GetByEmail looks up an operator by email.
func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	query := `SELECT id, email, password_hash, role, created_at FROM operators WHERE email = $1`
	return scanOperator(r.db.Pool.QueryRow(ctx, query, email))
}

// GetByID looks up an operator by id.
func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	query := `SELECT id, email, password_hash, role, created_at FROM operators WHERE id = $1`
	return scanOperator(r.db.Pool.QueryRow(ctx, query, id))
}

func scanOperator(row pgx.Row) (*Operator, error) {
	op := &Operator{}
	err := row.Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Role, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, err
	}
	return op, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), checked on the error string since pgconn's
// typed PgError requires a direct import this package otherwise avoids.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

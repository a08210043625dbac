package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

const userColumns = `id, email, name, password_hash, role, stripe_account_id, payouts_enabled, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.StripeAccountID, &u.PayoutsEnabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, Translate(err)
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, u.Email, u.Name, u.PasswordHash, u.Role).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return Translate(err)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// SetStripeAccount stores the connected account id for a user. It only
// writes when the user has no account yet or already has this one.
func (r *UserRepo) SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE users SET stripe_account_id = $2, updated_at = now()
		WHERE id = $1 AND (stripe_account_id IS NULL OR stripe_account_id = $2)
	`, id, accountID))
}

// UpdatePayoutStatus persists the gateway account id and payout capability
// reported by an account.updated event.
func (r *UserRepo) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, accountID string, payoutsEnabled bool) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE users SET stripe_account_id = $2, payouts_enabled = $3, updated_at = now()
		WHERE id = $1
	`, id, accountID, payoutsEnabled))
}

// UpdatePayoutStatusByAccount is used when an account event carries no user
// reference. Zero rows means the account is not ours.
func (r *UserRepo) UpdatePayoutStatusByAccount(ctx context.Context, accountID string, payoutsEnabled bool) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET payouts_enabled = $2, updated_at = now()
		WHERE stripe_account_id = $1
	`, accountID, payoutsEnabled)
	if err != nil {
		return 0, Translate(err)
	}
	return tag.RowsAffected(), nil
}

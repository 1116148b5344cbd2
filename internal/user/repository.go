package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

type UserRepo struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts the account with a zero balance. Re-registering an
// existing Telegram id is a no-op that refreshes the profile fields.
func (ur *UserRepo) CreateUser(ctx context.Context, user *model.User) error {
	err := ur.db.QueryRow(ctx, `
		INSERT INTO users (id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = $2, first_name = $3, updated_at = NOW()
		RETURNING balance, created_at, updated_at`,
		user.ID, user.Username, user.FirstName,
	).Scan(&user.Balance, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return fmt.Errorf("failed to create user (%s): %w", pgErr.Code, err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (ur *UserRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := ur.db.QueryRow(ctx, `
		SELECT id, username, first_name, balance, created_at, updated_at
		FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

func (r *UserRepository) Pool() *pgxpool.Pool {
	return r.db
}

func (r *UserRepository) InsertUser(ctx context.Context, ext RepoExtension, user *model.User) (*model.User, error) {
	if ext == nil {
		ext = r.db
	}

	roles, err := json.Marshal(user.Roles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}

	const query = `
        INSERT INTO identity.users (id, username, password, roles)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at;
    `

	if err := ext.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.HashedPassword,
		roles,
	).Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}

	return user, nil
}

func (r *UserRepository) SelectUserByUsername(ctx context.Context, ext RepoExtension, username string) (*model.User, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT id, username, password, roles, blocked, created_at, updated_at
        FROM identity.users
        WHERE username = $1;
    `

	return r.scanUser(ext.QueryRow(ctx, query, username))
}

func (r *UserRepository) SelectUserByID(ctx context.Context, ext RepoExtension, id uuid.UUID) (*model.User, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT id, username, password, roles, blocked, created_at, updated_at
        FROM identity.users
        WHERE id = $1;
    `

	return r.scanUser(ext.QueryRow(ctx, query, id))
}

func (r *UserRepository) scanUser(row pgx.Row) (*model.User, error) {
	var (
		user  model.User
		roles []byte
	)

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.HashedPassword,
		&roles,
		&user.Blocked,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserDoesNotExist
		}

		return nil, err
	}

	if err := json.Unmarshal(roles, &user.Roles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roles: %w", err)
	}

	return &user, nil
}

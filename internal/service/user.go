package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/internal/repository"
)

type UserRepository interface {
	InsertUser(ctx context.Context, ext repository.RepoExtension, user *model.User) (*model.User, error)
	SelectUserByUsername(ctx context.Context, ext repository.RepoExtension, username string) (*model.User, error)
	SelectUserByID(ctx context.Context, ext repository.RepoExtension, id uuid.UUID) (*model.User, error)
}

// UserService owns the local user directory and implements the credential
// validator the session manager is wired with.
type UserService struct {
	log  *zap.Logger
	repo UserRepository
}

func NewUserService(log *zap.Logger, repo UserRepository) *UserService {
	return &UserService{
		log:  log,
		repo: repo,
	}
}

// Register creates a user with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, username, password string, roles map[model.AppID]string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.New(),
		Username:       username,
		HashedPassword: hash,
		Roles:          roles,
	}

	return s.repo.InsertUser(ctx, nil, user)
}

// ValidateCredentials is a CredentialValidator. Wrong username and wrong
// password collapse into the same error on purpose.
func (s *UserService) ValidateCredentials(ctx context.Context, creds model.Credentials) (*model.Profile, error) {
	user, err := s.repo.SelectUserByUsername(ctx, nil, creds.Username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserDoesNotExist) {
			return nil, apperrors.ErrInvalidCredentials
		}

		return nil, err
	}

	if user.Blocked {
		return nil, apperrors.ErrUserBlocked
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(creds.Password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	return &model.Profile{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
	}, nil
}

// DerivePermissions is a PermissionDeriver mapping a role to permission
// strings for one application.
func DerivePermissions(app model.AppID, role string) []string {
	switch app {
	case model.AppField:
		switch role {
		case model.RoleFieldAgent:
			return []string{"items:register", "items:read", "sites:read"}
		case model.RoleInspector:
			return []string{"items:read", "items:inspect", "sites:read", "compliance:write"}
		}
	case model.AppTrade:
		switch role {
		case model.RoleTrader:
			return []string{"trades:create", "trades:read", "lots:read"}
		case model.RoleRiskOfficer:
			return []string{"trades:read", "lots:read", "compliance:read", "compliance:write"}
		}
	}

	return nil
}

// SeedDemoUsers populates the directory with generated accounts for local
// development. Existing usernames are skipped.
func (s *UserService) SeedDemoUsers(ctx context.Context, count int) error {
	roleSets := []map[model.AppID]string{
		{model.AppField: model.RoleFieldAgent},
		{model.AppField: model.RoleInspector, model.AppTrade: model.RoleRiskOfficer},
		{model.AppTrade: model.RoleTrader},
		{model.AppField: model.RoleFieldAgent, model.AppTrade: model.RoleTrader},
	}

	for i := 0; i < count; i++ {
		username := gofakeit.Username()

		if _, err := s.repo.SelectUserByUsername(ctx, nil, username); err == nil {
			continue
		} else if !errors.Is(err, apperrors.ErrUserDoesNotExist) {
			return err
		}

		user, err := s.Register(ctx, username, gofakeit.Password(true, true, true, false, false, 12), roleSets[i%len(roleSets)])
		if err != nil {
			return err
		}

		s.log.Info("Seeded demo user",
			zap.String("user_id", user.ID.String()),
			zap.String("username", user.Username),
		)
	}

	return nil
}

package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/ichat/chat-service/internal/model"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

func (s *Store) EnsureUser(ctx context.Context, tokenIdentifier string, profile registrystore.UserProfile) (*model.User, error) {
	if tokenIdentifier == "" {
		return nil, &registrystore.ValidationError{Field: "tokenIdentifier", Message: "must not be empty"}
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("token_identifier = ?", tokenIdentifier).First(&user).Error
	if err == nil {
		updates := map[string]any{}
		if profile.Name != nil {
			updates["name"] = profile.Name
		}
		if profile.Image != nil {
			updates["image"] = profile.Image
		}
		if profile.Email != "" && profile.Email != user.Email {
			updates["email"] = profile.Email
		}
		if len(updates) > 0 {
			if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("failed to update user: %w", err)
			}
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user = model.User{
		ID:              uuid.New(),
		TokenIdentifier: tokenIdentifier,
		Name:            profile.Name,
		Email:           profile.Email,
		Image:           profile.Image,
		IsOnline:        true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// Concurrent first sync can race on the unique token_identifier index.
		if isUniqueViolation(err) {
			var existing model.User
			if ferr := s.db.WithContext(ctx).Where("token_identifier = ?", tokenIdentifier).First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// ResolveUser maps an authenticated token identifier to its user record.
func (s *Store) ResolveUser(ctx context.Context, tokenIdentifier string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("token_identifier = ?", tokenIdentifier).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: tokenIdentifier}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListUsers returns every user except the caller, most recently created first.
func (s *Store) ListUsers(ctx context.Context, exceptUserID uuid.UUID) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("id <> ?", exceptUserID).
		Order("created_at DESC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) SetUserOnline(ctx context.Context, id uuid.UUID, online bool) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("is_online", online)
	if result.Error != nil {
		return fmt.Errorf("failed to update user presence: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "user", ID: id.String()}
	}
	return nil
}

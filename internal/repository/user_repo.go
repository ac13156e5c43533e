package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"gorm.io/gorm"
)

// UserRepository handles database operations for User
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID finds a user by UUID
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByNetID finds a user by campus NetID
func (r *UserRepository) FindByNetID(ctx context.Context, netID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("net_id = ?", netID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Exists reports whether a user row exists
func (r *UserRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

package service

import (
	"context"
	"errors"
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"
	"strings"

	"gorm.io/gorm"
)

type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// IdentityService 在入口处把调用方统一解析成内部用户 ID
type IdentityService struct {
	Users UserLookup
}

func NewIdentityService(users UserLookup) *IdentityService {
	return &IdentityService{Users: users}
}

func (s *IdentityService) Resolve(ctx context.Context, claims *util.Claims) (uint, error) {
	if claims == nil {
		return 0, util.ErrUserNotFound
	}
	if claims.UserID != 0 {
		return claims.UserID, nil
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" || s.Users == nil {
		return 0, util.ErrUserNotFound
	}

	user, err := s.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, util.ErrUserNotFound
		}
		return 0, err
	}
	if user.Disabled {
		return 0, util.ErrPermissionDenied
	}
	return user.ID, nil
}

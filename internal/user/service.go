package user

import (
	"context"

	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
)

type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{
		repo: repo,
	}
}

func (us *UserService) CreateUser(ctx context.Context, user *model.User) error {
	logger := middleware.GetLogger(ctx)
	logger.Info().Int64("user_id", user.ID).Msg("Registering user")
	return us.repo.CreateUser(ctx, user)
}

func (us *UserService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return us.repo.GetUserByID(ctx, id)
}

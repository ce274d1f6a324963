package services

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"dialog-service/models"
	"dialog-service/utils"
)

// UserService exposes read-only profiles.
type UserService struct {
	store *Store
}

func NewUserService(store *Store) *UserService {
	return &UserService{store: store}
}

func (s *UserService) Me(ctx context.Context, caller *models.User) (UserView, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return UserView{}, err
	}
	return newUserView(caller), nil
}

func (s *UserService) Get(ctx context.Context, caller *models.User, id string) (UserView, error) {
	if err := authorize(caller, models.Members...); err != nil {
		return UserView{}, err
	}
	user, err := s.store.UserByID(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return UserView{}, utils.NotFound(fmt.Sprintf("User %q not found", id))
	}
	if err != nil {
		return UserView{}, utils.Internal(err)
	}
	return newUserView(user), nil
}

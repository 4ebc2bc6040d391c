package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"shopsys/internal/domain"
	"shopsys/internal/repository"
)

var ErrUnauthorized = errors.New("invalid username or password")

const minPasswordLength = 8

// UserService manages login accounts
type UserService struct {
	repo repository.UserRepository
	cost int
}

// NewUserService uses bcrypt.DefaultCost when cost is not positive
func NewUserService(repo repository.UserRepository, cost int) *UserService {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserService{repo: repo, cost: cost}
}

// Register creates an enabled account with a bcrypt-hashed password
func (s *UserService) Register(ctx context.Context, username, password string, role domain.Role) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(password) < minPasswordLength {
		return nil, ErrInvalidInput
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return nil, errors.Wrapf(ErrInvalidInput, "unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	u := domain.User{Username: username, PasswordHash: string(hash), Role: role, Enabled: true}
	if err := s.repo.Create(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Authenticate checks the credentials of an enabled user
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !u.Enabled {
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}
	return u, nil
}

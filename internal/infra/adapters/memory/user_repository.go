package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/careline/rtc/internal/domain/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the relay's in-memory account store. The production
// backend owns real accounts; the relay only needs enough to hand out
// tokens and resolve caller names.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uuid.UUID) (*models.User, error)
	GetByUsername(username string) (*models.User, error)
}

type userRepository struct {
	byID   map[uuid.UUID]*models.User
	byName map[string]*models.User

	mu sync.RWMutex
}

func NewUserRepository() UserRepository {
	return &userRepository{
		byID:   make(map[uuid.UUID]*models.User),
		byName: make(map[string]*models.User),
	}
}

func (r *userRepository) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[user.Username]; exists {
		return errors.New("username already taken")
	}

	r.byID[user.ID] = user
	r.byName[user.Username] = user

	return nil
}

func (r *userRepository) GetByID(id uuid.UUID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	return user, nil
}

func (r *userRepository) GetByUsername(username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}

	return user, nil
}

package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/adapters/memory"
)

// UserUsecase определяет интерфейс для работы с пользователями relay
type UserUsecase interface {
	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ValidateCredentials(ctx context.Context, username, password string) (*models.User, error)
	GenerateJWT(user *models.User) (string, error)
	GetOnlineUsers(ctx context.Context) []uuid.UUID
}

type userUsecase struct {
	jwtSecret []byte

	userRepo memory.UserRepository
	connRepo memory.ChannelConnectionRepository
}

func NewUserUsecase(
	jwtSecret []byte,
	userRepo memory.UserRepository,
	connRepo memory.ChannelConnectionRepository,
) UserUsecase {
	return &userUsecase{
		jwtSecret: jwtSecret,
		userRepo:  userRepo,
		connRepo:  connRepo,
	}
}

func (uc *userUsecase) CreateUser(_ context.Context, username, password string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.NewUser()
	user.Username = username
	user.Password = string(hashedPassword)

	if err = uc.userRepo.Create(user); err != nil {
		return nil, err
	}

	user.Password = ""
	return user, nil
}

func (uc *userUsecase) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return uc.userRepo.GetByID(id)
}

func (uc *userUsecase) ValidateCredentials(_ context.Context, username, password string) (*models.User, error) {
	user, err := uc.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, err
	}

	user.Password = ""
	return user, nil
}

func (uc *userUsecase) GenerateJWT(user *models.User) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(uc.jwtSecret)
}

func (uc *userUsecase) GetOnlineUsers(_ context.Context) []uuid.UUID {
	return uc.connRepo.GetAllConnected()
}

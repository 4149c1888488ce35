package admin

import (
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-fileshare/internal/config"
	"github.com/3Eeeecho/go-fileshare/internal/models"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/logger"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/utils"
	"github.com/3Eeeecho/go-fileshare/internal/pkg/xerr"
	"github.com/3Eeeecho/go-fileshare/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthService interface {
	RegisterUser(username, password, email string) (*models.User, error)
	LoginUser(identifier, password string) (string, *models.User, error)
}

type authService struct {
	userRepo repositories.UserRepository
	cfg      *config.Config
}

// 确保authService实现了AuthService的方法
var _ AuthService = (*authService)(nil)

func NewAuthService(userRepo repositories.UserRepository, cfg *config.Config) AuthService {
	return &authService{
		userRepo: userRepo,
		cfg:      cfg,
	}
}

func (s *authService) RegisterUser(username, password, email string) (*models.User, error) {
	//检查用户名是否存在
	existingUser, err := s.userRepo.GetUserByUsername(username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check username existence: %w", err)
	}
	if existingUser != nil {
		return nil, xerr.ErrUserAlreadyExists
	}

	//检查邮箱是否存在
	existingUser, err = s.userRepo.GetUserByEmail(email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if existingUser != nil {
		return nil, xerr.ErrEmailAlreadyExists
	}

	//哈希密码
	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Email:        email,
		TotalSpace:   1073741824, // 默认给每个新用户 1GB 空间
		UsedSpace:    0,
		Status:       1,
	}

	err = s.userRepo.CreateUser(user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user in database: %w", err)
	}

	logger.Info("User registered successfully", zap.String("username", user.Username))
	return user, nil
}

func (s *authService) LoginUser(identifier, password string) (string, *models.User, error) {
	var user *models.User
	var err error

	// 先按用户名查找，找不到再按邮箱
	user, err = s.userRepo.GetUserByUsername(identifier)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, fmt.Errorf("failed to get user by username: %w", err)
		}
		user, err = s.userRepo.GetUserByEmail(identifier)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil, xerr.ErrInvalidCredentials
			}
			return "", nil, fmt.Errorf("failed to get user by email: %w", err)
		}
	}

	//验证密码
	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", nil, xerr.ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to compare password: %w", err)
	}

	//生成JWT Token
	tokenString, err := utils.GenerateToken(
		user.ID,
		user.Username,
		user.Email,
		s.cfg.JWT.SecretKey,
		s.cfg.JWT.Issuer,
		s.cfg.JWT.ExpiresIn,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, user, nil
}

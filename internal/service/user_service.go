package service

import (
	"errors"

	"vibin-go/internal/model"
	"vibin-go/internal/repository"
	"vibin-go/pkg/hash"
	"vibin-go/pkg/token"

	"gorm.io/gorm"
)

// UserService 接口定义了所有与用户账号相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	GetProfile(username string) (*model.User, error)
	UpdateProfile(username, nickname, bio string) (*model.User, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(username, password string) (*model.User, error) {
	u := normalizeUsername(username)
	if u == "" {
		return nil, ErrInvalidUsername
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(u)
	if err == nil {
		return nil, errors.New("用户名已存在")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username: u,
		Password: hashedPassword,
		Role:     "user",
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 校验凭证并签发 access/refresh token 对。
func (s *userService) Login(username, password string) (string, string, error) {
	user, err := s.userRepo.FindByUsername(normalizeUsername(username))
	if err != nil {
		return "", "", errors.New("用户名或密码错误")
	}
	if !hash.CheckPassword(password, user.Password) {
		return "", "", errors.New("用户名或密码错误")
	}

	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户名返回用户资料。
func (s *userService) GetProfile(username string) (*model.User, error) {
	return s.userRepo.FindByUsername(normalizeUsername(username))
}

// UpdateProfile 更新用户昵称与简介。
func (s *userService) UpdateProfile(username, nickname, bio string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(normalizeUsername(username))
	if err != nil {
		return nil, err
	}
	user.Nickname = nickname
	user.Bio = bio
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

// RefreshToken 用有效的 refresh token 换发新的 token 对。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("无效或已过期的 refresh token")
	}

	// 确认用户仍然存在
	user, err := s.userRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", errors.New("用户不存在")
	}

	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

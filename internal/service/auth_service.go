package service

import (
	"context"
	"time"

	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/models"
	"github.com/wfunc/pinball/internal/repository"
	"github.com/wfunc/pinball/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoginResult 登录结果
type LoginResult struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	Operator     *models.Operator `json:"operator"`
}

// AuthService 操作员认证服务
type AuthService interface {
	Login(ctx context.Context, username, password, ip string) (*LoginResult, error)
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	ChangePassword(ctx context.Context, operatorID uint, oldPassword, newPassword string) error
}

type authService struct {
	operators  repository.OperatorRepository
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB, jwtCfg config.JWTConfig, log *zap.Logger) AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &authService{
		operators: repository.NewOperatorRepository(db),
		jwtManager: utils.NewJWTManager(jwtCfg.Secret,
			time.Duration(jwtCfg.ExpireHours)*time.Hour,
			time.Duration(jwtCfg.RefreshHours)*time.Hour),
		log: log.With(zap.String("component", "auth_service")),
	}
}

// Login 用户名密码登录
func (s *authService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	op, err := s.operators.FindByUsername(ctx, username)
	if err != nil {
		if err == repository.ErrOperatorNotFound {
			// 不区分用户不存在和密码错误
			return nil, errors.New(errors.ErrAuthentication, "用户名或密码错误")
		}
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "查询操作员失败")
	}

	if op.Status != "active" {
		return nil, errors.New(errors.ErrPermissionDenied, "账号已停用")
	}

	ok, err := utils.VerifyPassword(password, op.Password)
	if err != nil || !ok {
		s.log.Warn("登录失败",
			zap.String("username", username),
			zap.String("ip", ip))
		return nil, errors.New(errors.ErrAuthentication, "用户名或密码错误")
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(op.ID, op.Username, op.Role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTokenInvalid, "生成访问令牌失败")
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(op.ID, op.Username)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTokenInvalid, "生成刷新令牌失败")
	}

	if err := s.operators.UpdateLastLogin(ctx, op.ID, ip); err != nil {
		s.log.Error("更新登录记录失败", zap.Error(err))
	}

	s.log.Info("操作员登录",
		zap.String("username", username),
		zap.String("role", op.Role),
		zap.String("ip", ip))

	op.Password = ""
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		Operator:     op,
	}, nil
}

// ValidateToken 验证访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		if err == utils.ErrExpiredToken {
			return nil, errors.New(errors.ErrTokenExpired)
		}
		return nil, errors.Wrap(err, errors.ErrTokenInvalid)
	}
	if claims.TokenType != "access" {
		return nil, errors.New(errors.ErrTokenInvalid, "不是访问令牌")
	}
	return claims, nil
}

// RefreshToken 用刷新令牌换新的访问令牌
// 角色以数据库当前值为准，令牌里的旧角色作废
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTokenInvalid)
	}
	if claims.TokenType != "refresh" {
		return "", errors.New(errors.ErrTokenInvalid, "不是刷新令牌")
	}

	op, err := s.operators.FindByID(ctx, claims.OperatorID)
	if err != nil {
		return "", errors.New(errors.ErrAuthentication, "操作员不存在")
	}
	if op.Status != "active" {
		return "", errors.New(errors.ErrPermissionDenied, "账号已停用")
	}

	return s.jwtManager.RefreshAccessToken(refreshToken, op.Role)
}

// ChangePassword 修改密码，需校验旧密码
func (s *authService) ChangePassword(ctx context.Context, operatorID uint, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return errors.New(errors.ErrInvalidParam, "新密码至少6位")
	}

	op, err := s.operators.FindByID(ctx, operatorID)
	if err != nil {
		return errors.New(errors.ErrAuthentication, "操作员不存在")
	}

	ok, err := utils.VerifyPassword(oldPassword, op.Password)
	if err != nil || !ok {
		return errors.New(errors.ErrAuthentication, "旧密码错误")
	}

	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "密码哈希失败")
	}
	if err := s.operators.UpdatePassword(ctx, operatorID, hashed); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseUpdate, "更新密码失败")
	}

	s.log.Info("操作员修改密码", zap.Uint("operator_id", operatorID))
	return nil
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/config"
	"github.com/wfunc/pinball/internal/errors"
	"github.com/wfunc/pinball/internal/models"
	"github.com/wfunc/pinball/internal/repository"
	"github.com/wfunc/pinball/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthServiceTestSuite 认证服务测试套件
type AuthServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service AuthService
	ctx     context.Context
}

func (suite *AuthServiceTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.ctx = context.Background()
	suite.service = NewAuthService(suite.db, config.JWTConfig{
		Secret:       "test-secret",
		ExpireHours:  1,
		RefreshHours: 24,
	}, zap.NewNop())

	hashed, err := utils.HashPassword("admin123")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.db.Create(&models.Operator{
		Username: "admin",
		Password: hashed,
		Role:     "admin",
		Status:   "active",
	}).Error)
}

func (suite *AuthServiceTestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

// 测试正常登录
func (suite *AuthServiceTestSuite) TestLogin() {
	result, err := suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.NoError(err)
	suite.NotEmpty(result.AccessToken)
	suite.NotEmpty(result.RefreshToken)
	suite.Equal("admin", result.Operator.Username)
	// 返回结果不带密码哈希
	suite.Empty(result.Operator.Password)

	// 登录记录已更新
	var op models.Operator
	suite.NoError(suite.db.Where("username = ?", "admin").First(&op).Error)
	suite.NotNil(op.LastLoginAt)
	suite.Equal("127.0.0.1", op.LastLoginIP)
}

// 测试密码错误
func (suite *AuthServiceTestSuite) TestLoginWrongPassword() {
	_, err := suite.service.Login(suite.ctx, "admin", "wrong", "127.0.0.1")
	suite.Error(err)
	suite.Equal(errors.ErrAuthentication, errors.GetCode(err))
}

// 测试用户不存在，错误信息与密码错误一致
func (suite *AuthServiceTestSuite) TestLoginUnknownUser() {
	_, err := suite.service.Login(suite.ctx, "nobody", "admin123", "127.0.0.1")
	suite.Error(err)
	suite.Equal(errors.ErrAuthentication, errors.GetCode(err))
}

// 测试停用账号不能登录
func (suite *AuthServiceTestSuite) TestLoginInactiveOperator() {
	suite.NoError(suite.db.Model(&models.Operator{}).
		Where("username = ?", "admin").
		Update("status", "inactive").Error)

	_, err := suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.Error(err)
	suite.Equal(errors.ErrPermissionDenied, errors.GetCode(err))
}

// 测试令牌验证
func (suite *AuthServiceTestSuite) TestValidateToken() {
	result, err := suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.Require().NoError(err)

	claims, err := suite.service.ValidateToken(suite.ctx, result.AccessToken)
	suite.NoError(err)
	suite.Equal("admin", claims.Username)
	suite.Equal("admin", claims.Role)

	_, err = suite.service.ValidateToken(suite.ctx, "not-a-token")
	suite.Error(err)

	// 刷新令牌不能当访问令牌用
	_, err = suite.service.ValidateToken(suite.ctx, result.RefreshToken)
	suite.Error(err)
}

// 测试刷新令牌换访问令牌
func (suite *AuthServiceTestSuite) TestRefreshToken() {
	result, err := suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.Require().NoError(err)

	newToken, err := suite.service.RefreshToken(suite.ctx, result.RefreshToken)
	suite.NoError(err)

	claims, err := suite.service.ValidateToken(suite.ctx, newToken)
	suite.NoError(err)
	suite.Equal("admin", claims.Username)

	// 访问令牌不能刷新
	_, err = suite.service.RefreshToken(suite.ctx, result.AccessToken)
	suite.Error(err)
}

// 测试刷新时取数据库里的当前角色
func (suite *AuthServiceTestSuite) TestRefreshPicksUpRoleChange() {
	result, err := suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.Require().NoError(err)

	suite.NoError(suite.db.Model(&models.Operator{}).
		Where("username = ?", "admin").
		Update("role", "viewer").Error)

	newToken, err := suite.service.RefreshToken(suite.ctx, result.RefreshToken)
	suite.NoError(err)

	claims, err := suite.service.ValidateToken(suite.ctx, newToken)
	suite.NoError(err)
	suite.Equal("viewer", claims.Role)
}

// 测试修改密码
func (suite *AuthServiceTestSuite) TestChangePassword() {
	var op models.Operator
	suite.Require().NoError(suite.db.Where("username = ?", "admin").First(&op).Error)

	err := suite.service.ChangePassword(suite.ctx, op.ID, "admin123", "newpass456")
	suite.NoError(err)

	// 旧密码失效
	_, err = suite.service.Login(suite.ctx, "admin", "admin123", "127.0.0.1")
	suite.Error(err)

	result, err := suite.service.Login(suite.ctx, "admin", "newpass456", "127.0.0.1")
	suite.NoError(err)
	suite.NotEmpty(result.AccessToken)
}

// 测试修改密码时旧密码校验
func (suite *AuthServiceTestSuite) TestChangePasswordWrongOld() {
	var op models.Operator
	suite.Require().NoError(suite.db.Where("username = ?", "admin").First(&op).Error)

	err := suite.service.ChangePassword(suite.ctx, op.ID, "wrong", "newpass456")
	suite.Error(err)
	suite.Equal(errors.ErrAuthentication, errors.GetCode(err))

	err = suite.service.ChangePassword(suite.ctx, op.ID, "admin123", "123")
	suite.Error(err)
	suite.Equal(errors.ErrInvalidParam, errors.GetCode(err))
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}

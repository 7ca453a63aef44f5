package utils

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// JWTTestSuite JWT管理器测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", time.Hour, 24*time.Hour)
}

// 测试生成访问令牌
func (suite *JWTTestSuite) TestGenerateAccessToken() {
	token, err := suite.manager.GenerateAccessToken(1, "admin", "admin")
	suite.NoError(err)
	suite.NotEmpty(token)
}

// 测试生成刷新令牌
func (suite *JWTTestSuite) TestGenerateRefreshToken() {
	token, err := suite.manager.GenerateRefreshToken(1, "admin")
	suite.NoError(err)
	suite.NotEmpty(token)
}

// 测试验证有效令牌
func (suite *JWTTestSuite) TestValidateToken() {
	token, _ := suite.manager.GenerateAccessToken(42, "tech01", "technician")

	claims, err := suite.manager.ValidateToken(token)
	suite.NoError(err)
	suite.Equal(uint(42), claims.OperatorID)
	suite.Equal("tech01", claims.Username)
	suite.Equal("technician", claims.Role)
	suite.Equal("access", claims.TokenType)
}

// 测试密钥不匹配
func (suite *JWTTestSuite) TestValidateTokenWrongSecret() {
	wrongManager := NewJWTManager("other-secret", time.Hour, 24*time.Hour)
	token, _ := wrongManager.GenerateAccessToken(1, "user", "viewer")

	_, err := suite.manager.ValidateToken(token)
	suite.Error(err)
}

// 测试过期令牌
func (suite *JWTTestSuite) TestValidateExpiredToken() {
	expiredManager := NewJWTManager("test-secret-key", -time.Hour, 24*time.Hour)
	token, _ := expiredManager.GenerateAccessToken(111, "expired", "viewer")

	_, err := suite.manager.ValidateToken(token)
	suite.Error(err)
}

// 测试用刷新令牌换访问令牌
func (suite *JWTTestSuite) TestRefreshAccessToken() {
	refreshToken, _ := suite.manager.GenerateRefreshToken(7, "tech01")

	newAccessToken, err := suite.manager.RefreshAccessToken(refreshToken, "technician")
	suite.NoError(err)

	claims, err := suite.manager.ValidateToken(newAccessToken)
	suite.NoError(err)
	suite.Equal(uint(7), claims.OperatorID)
	suite.Equal("tech01", claims.Username)
	suite.Equal("technician", claims.Role)
	suite.Equal("access", claims.TokenType)
}

// 测试访问令牌不能当刷新令牌用
func (suite *JWTTestSuite) TestRefreshWithAccessToken() {
	accessToken, _ := suite.manager.GenerateAccessToken(1, "user", "viewer")

	_, err := suite.manager.RefreshAccessToken(accessToken, "viewer")
	suite.Error(err)

	_, err = suite.manager.RefreshAccessToken("invalid.token", "viewer")
	suite.Error(err)
}

// 测试并发生成与验证
func (suite *JWTTestSuite) TestConcurrentTokens() {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			username := fmt.Sprintf("op%d", id)
			token, err := suite.manager.GenerateAccessToken(uint(id), username, "viewer")
			suite.NoError(err)

			claims, err := suite.manager.ValidateToken(token)
			suite.NoError(err)
			suite.Equal(username, claims.Username)
		}(i)
	}
	wg.Wait()
}

// 测试令牌过期时间查询
func (suite *JWTTestSuite) TestGetTokenExpiry() {
	suite.Equal(time.Hour, suite.manager.GetTokenExpiry("access"))
	suite.Equal(24*time.Hour, suite.manager.GetTokenExpiry("refresh"))
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}

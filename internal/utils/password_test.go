package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

// PasswordTestSuite 密码工具测试套件
type PasswordTestSuite struct {
	suite.Suite
}

// 测试哈希与验证
func (suite *PasswordTestSuite) TestHashAndVerify() {
	hashed, err := HashPassword("secret123")
	suite.NoError(err)
	suite.True(strings.HasPrefix(hashed, "$argon2id$"))

	ok, err := VerifyPassword("secret123", hashed)
	suite.NoError(err)
	suite.True(ok)

	ok, err = VerifyPassword("wrong", hashed)
	suite.NoError(err)
	suite.False(ok)
}

// 测试同一密码每次的盐不同
func (suite *PasswordTestSuite) TestHashUnique() {
	h1, err := HashPassword("secret123")
	suite.NoError(err)
	h2, err := HashPassword("secret123")
	suite.NoError(err)
	suite.NotEqual(h1, h2)

	ok, err := VerifyPassword("secret123", h2)
	suite.NoError(err)
	suite.True(ok)
}

// 测试空密码也能哈希
func (suite *PasswordTestSuite) TestEmptyPassword() {
	hashed, err := HashPassword("")
	suite.NoError(err)

	ok, err := VerifyPassword("", hashed)
	suite.NoError(err)
	suite.True(ok)

	ok, err = VerifyPassword("not-empty", hashed)
	suite.NoError(err)
	suite.False(ok)
}

// 测试非法哈希格式
func (suite *PasswordTestSuite) TestVerifyMalformedHash() {
	_, err := VerifyPassword("pw", "not-a-hash")
	suite.Error(err)

	_, err = VerifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA")
	suite.Error(err)
}

// 测试自定义配置
func (suite *PasswordTestSuite) TestCustomConfig() {
	cfg := &PasswordConfig{Time: 2, Memory: 32 * 1024, Threads: 2, KeyLen: 32}
	hashed, err := HashPasswordWithConfig("secret123", cfg)
	suite.NoError(err)

	// 配置参数编码在哈希串里，验证时自动恢复
	ok, err := VerifyPassword("secret123", hashed)
	suite.NoError(err)
	suite.True(ok)
}

// 测试随机字符串
func (suite *PasswordTestSuite) TestGenerateRandomString() {
	s1, err := GenerateRandomString(32)
	suite.NoError(err)
	suite.Len(s1, 32)

	s2, err := GenerateRandomString(32)
	suite.NoError(err)
	suite.NotEqual(s1, s2)
}

func TestPasswordSuite(t *testing.T) {
	suite.Run(t, new(PasswordTestSuite))
}

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/pinball/internal/models"
	"gorm.io/gorm"
)

// DeviceStatusRepoTestSuite 装置状态仓储测试套件
type DeviceStatusRepoTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo DeviceStatusRepository
	ctx  context.Context
}

func (suite *DeviceStatusRepoTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.repo = NewDeviceStatusRepository(suite.db)
	suite.ctx = context.Background()
}

func (suite *DeviceStatusRepoTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// 测试同名覆写
func (suite *DeviceStatusRepoTestSuite) TestUpsert() {
	suite.NoError(suite.repo.Upsert(suite.ctx, &models.DeviceStatus{
		Name:           "trough",
		Kind:           models.DeviceKindDevice,
		State:          "idle",
		Balls:          3,
		AvailableBalls: 3,
	}))
	suite.NoError(suite.repo.Upsert(suite.ctx, &models.DeviceStatus{
		Name:           "trough",
		Kind:           models.DeviceKindDevice,
		State:          "ejecting",
		Balls:          3,
		AvailableBalls: 2,
		EjectAttempts:  1,
	}))

	found, err := suite.repo.FindByName(suite.ctx, "trough")
	suite.NoError(err)
	suite.Equal("ejecting", found.State)
	suite.Equal(2, found.AvailableBalls)
	suite.Equal(1, found.EjectAttempts)

	all, err := suite.repo.ListAll(suite.ctx)
	suite.NoError(err)
	suite.Len(all, 1, "覆写不产生新行")
}

// 测试批量覆写与球数合计
func (suite *DeviceStatusRepoTestSuite) TestBatchUpsertAndTotals() {
	suite.NoError(suite.repo.BatchUpsert(suite.ctx, []*models.DeviceStatus{
		{Name: "trough", Kind: models.DeviceKindDevice, State: "idle", Balls: 2},
		{Name: "plunger", Kind: models.DeviceKindDevice, State: "idle", Balls: 0},
		{Name: "playfield", Kind: models.DeviceKindPlayfield, Balls: 1},
	}))

	total, err := suite.repo.TotalBalls(suite.ctx)
	suite.NoError(err)
	suite.Equal(3, total)

	idle, err := suite.repo.FindByState(suite.ctx, "idle")
	suite.NoError(err)
	suite.Len(idle, 2)
	suite.Equal("plunger", idle[0].Name, "按装置名排序")
}

// 测试查找不存在的装置
func (suite *DeviceStatusRepoTestSuite) TestFindMissing() {
	_, err := suite.repo.FindByName(suite.ctx, "saucer")
	suite.Error(err)
}

func TestDeviceStatusRepoTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceStatusRepoTestSuite))
}

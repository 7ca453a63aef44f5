package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// HubTestSuite 广播中心测试套件
// 不起真实连接，直接从客户端的发送通道取消息
type HubTestSuite struct {
	suite.Suite
	hub *Hub
}

func (suite *HubTestSuite) SetupTest() {
	suite.hub = NewHub(zap.NewNop())
	go suite.hub.Run()
}

func (suite *HubTestSuite) TearDownTest() {
	suite.hub.Stop()
}

// addClient 注册一个无连接的测试客户端
func (suite *HubTestSuite) addClient(username string) *Client {
	client := NewClient(suite.hub, nil, username)
	suite.hub.register <- client

	// 注册成功会先收到connected消息
	msg := suite.recv(client)
	suite.Equal(MessageTypeConnected, msg.Type)
	return client
}

// recv 从客户端发送通道里取一条消息
func (suite *HubTestSuite) recv(client *Client) *Message {
	select {
	case data := <-client.Send:
		var msg Message
		suite.Require().NoError(json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(time.Second):
		suite.Require().Fail("等待消息超时")
		return nil
	}
}

// 测试事件广播到所有客户端
func (suite *HubTestSuite) TestPublishBroadcasts() {
	c1 := suite.addClient("op1")
	c2 := suite.addClient("op2")
	suite.Equal(2, suite.hub.ClientCount())

	suite.hub.Publish("machine_ball_count_change", map[string]interface{}{"balls": 3})

	for _, c := range []*Client{c1, c2} {
		msg := suite.recv(c)
		suite.Equal(MessageTypeMachineEvent, msg.Type)
		suite.Equal("machine_ball_count_change", msg.Event)
		suite.Equal(float64(3), msg.Data["balls"])
	}
}

// 测试订阅前缀过滤
func (suite *HubTestSuite) TestSubscribeFilters() {
	c := suite.addClient("op1")
	c.handleMessage([]byte(`{"type":"subscribe","filters":["ball_search_"]}`))

	suite.hub.Publish("machine_ball_count_change", nil)
	suite.hub.Publish("ball_search_started", nil)

	msg := suite.recv(c)
	suite.Equal("ball_search_started", msg.Event)

	// 空列表恢复全量订阅
	c.handleMessage([]byte(`{"type":"subscribe"}`))
	suite.hub.Publish("machine_ball_count_change", nil)
	msg = suite.recv(c)
	suite.Equal("machine_ball_count_change", msg.Event)
}

// 测试注销后不再收消息
func (suite *HubTestSuite) TestUnregister() {
	c := suite.addClient("op1")
	suite.hub.unregister <- c

	suite.Eventually(func() bool {
		return suite.hub.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)

	// 注销时发送通道被关闭
	_, open := <-c.Send
	suite.False(open)
}

// 测试非法控制消息只回错误不断开
func (suite *HubTestSuite) TestBadClientMessage() {
	c := suite.addClient("op1")

	c.handleMessage([]byte(`not json`))
	msg := suite.recv(c)
	suite.Equal(MessageTypeError, msg.Type)

	c.handleMessage([]byte(`{"type":"whatever"}`))
	msg = suite.recv(c)
	suite.Equal(MessageTypeError, msg.Type)
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubTestSuite))
}

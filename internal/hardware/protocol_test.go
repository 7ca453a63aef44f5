package hardware

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// ProtocolTestSuite 协议编解码测试套件
type ProtocolTestSuite struct {
	suite.Suite
}

// 测试帧编解码往返
func (suite *ProtocolTestSuite) TestFrameRoundTrip() {
	data := encodeCoilPulse(3, 20)
	frame := NewFrame(CmdCoilPulse, 1, data)

	raw := frame.ToBytes()
	suite.Equal(FrameHeader, raw[0])
	suite.Equal(FrameTail, raw[len(raw)-1])
	suite.Len(raw, int(frame.Length))

	parsed := &Frame{}
	suite.NoError(parsed.FromBytes(raw))
	suite.Equal(CmdCoilPulse, parsed.Command)
	suite.Equal(uint16(1), parsed.Sequence)
	suite.Equal(data, parsed.Data)
}

// 测试空数据帧
func (suite *ProtocolTestSuite) TestEmptyDataFrame() {
	frame := NewFrame(CmdHeartbeat, 7, nil)
	raw := frame.ToBytes()
	suite.Len(raw, int(MinFrameLen))

	parsed := &Frame{}
	suite.NoError(parsed.FromBytes(raw))
	suite.Equal(CmdHeartbeat, parsed.Command)
	suite.Empty(parsed.Data)
}

// 测试CRC校验失败
func (suite *ProtocolTestSuite) TestCRCMismatch() {
	frame := NewFrame(CmdCoilEnable, 3, []byte{5})
	raw := frame.ToBytes()

	// 篡改数据字节
	raw[6] ^= 0xFF

	parsed := &Frame{}
	err := parsed.FromBytes(raw)
	suite.Error(err)
	suite.Contains(err.Error(), "CRC")
}

// 测试帧头帧尾校验
func (suite *ProtocolTestSuite) TestInvalidFraming() {
	frame := NewFrame(CmdStatusQuery, 9, nil)
	raw := frame.ToBytes()

	bad := make([]byte, len(raw))
	copy(bad, raw)
	bad[0] = 0x00
	suite.Error((&Frame{}).FromBytes(bad))

	copy(bad, raw)
	bad[len(bad)-1] = 0x00
	suite.Error((&Frame{}).FromBytes(bad))

	suite.Error((&Frame{}).FromBytes([]byte{FrameHeader, 0x00}))
}

// 测试开关事件解码
func (suite *ProtocolTestSuite) TestDecodeSwitchChange() {
	change, err := decodeSwitchChange([]byte{12, 1})
	suite.NoError(err)
	suite.Equal(12, change.Number)
	suite.True(change.Active)

	change, err = decodeSwitchChange([]byte{3, 0})
	suite.NoError(err)
	suite.False(change.Active)

	_, err = decodeSwitchChange([]byte{1})
	suite.Error(err)
}

func TestProtocolTestSuite(t *testing.T) {
	suite.Run(t, new(ProtocolTestSuite))
}

package hardware

import (
	"encoding/binary"
	"fmt"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9 // 最小帧长度：帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
)

// 命令码定义
const (
	// 硬件控制指令（Golang→主控板）
	CmdCoilPulse   byte = 0x01 // 线圈脉冲
	CmdCoilEnable  byte = 0x02 // 线圈保持
	CmdCoilDisable byte = 0x03 // 线圈释放

	// 硬件事件上报（主控板→Golang）
	EventSwitchChange byte = 0x11 // 开关翻转

	// 状态管理
	CmdStatusQuery    byte = 0x21 // 状态查询
	EventStatusReport byte = 0x22 // 状态上报（开关位图）
	EventFaultReport  byte = 0x23 // 故障上报

	// 系统指令
	CmdHeartbeat byte = 0x31 // 心跳包
	CmdACK       byte = 0x80 // ACK确认
	CmdNACK      byte = 0x81 // NACK拒绝
)

// 故障码定义
const (
	FaultCoilStuck      byte = 0x01 // 线圈卡死
	FaultCoilOverload   byte = 0x02 // 线圈过载
	FaultSwitchAbnormal byte = 0x03 // 开关异常
	FaultOverTemperature byte = 0x04 // 温度过高
)

// 故障严重级别
const (
	FaultLevelInfo     byte = 0x01 // 提示
	FaultLevelWarning  byte = 0x02 // 警告
	FaultLevelError    byte = 0x03 // 错误
	FaultLevelCritical byte = 0x04 // 严重
)

// SwitchChange 开关翻转事件
type SwitchChange struct {
	Number int  // 开关编号
	Active bool // 是否闭合
}

// FaultEvent 故障事件
type FaultEvent struct {
	FaultCode byte // 故障码
	Level     byte // 严重级别
}

// Frame 数据帧结构
type Frame struct {
	Header   byte   // 帧头
	Length   uint16 // 长度
	Command  byte   // 命令码
	Sequence uint16 // 序列号
	Data     []byte // 数据
	CRC16    uint16 // CRC校验
	Tail     byte   // 帧尾
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}

	// 计算长度（整个帧的长度）
	f.Length = uint16(9 + len(data))

	// 计算CRC
	f.CRC16 = f.CalculateCRC()

	return f
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)
	idx := 0

	// 帧头
	buf[idx] = f.Header
	idx++

	// 长度（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Length)
	idx += 2

	// 命令
	buf[idx] = f.Command
	idx++

	// 序列号（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Sequence)
	idx += 2

	// 数据
	if len(f.Data) > 0 {
		copy(buf[idx:], f.Data)
		idx += len(f.Data)
	}

	// CRC16（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	idx += 2

	// 帧尾
	buf[idx] = f.Tail

	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return fmt.Errorf("frame too short: %d < %d", len(data), MinFrameLen)
	}

	// 检查帧头
	if data[0] != FrameHeader {
		return fmt.Errorf("invalid frame header: 0x%02X", data[0])
	}

	// 解析长度
	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])

	// 检查数据长度
	if len(data) < int(f.Length) {
		return fmt.Errorf("incomplete frame: %d < %d", len(data), f.Length)
	}

	// 检查帧尾
	if data[f.Length-1] != FrameTail {
		return fmt.Errorf("invalid frame tail: 0x%02X", data[f.Length-1])
	}

	// 解析字段
	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])

	// 解析数据
	dataLen := f.Length - 9
	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}

	// 解析CRC
	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	// 验证CRC
	calcCRC := f.CalculateCRC()
	if calcCRC != f.CRC16 {
		return fmt.Errorf("CRC mismatch: calc=0x%04X, recv=0x%04X", calcCRC, f.CRC16)
	}

	return nil
}

// CalculateCRC 计算CRC16校验值
func (f *Frame) CalculateCRC() uint16 {
	// 计算从命令码到数据的CRC
	data := make([]byte, 0, 3+len(f.Data))
	data = append(data, f.Command)
	data = append(data, byte(f.Sequence>>8), byte(f.Sequence&0xFF))
	if len(f.Data) > 0 {
		data = append(data, f.Data...)
	}
	return CRC16XMODEM(data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// encodeCoilPulse 编码线圈脉冲命令数据
func encodeCoilPulse(number int, pulseMs uint16) []byte {
	data := make([]byte, 3)
	data[0] = byte(number)
	binary.BigEndian.PutUint16(data[1:], pulseMs)
	return data
}

// decodeSwitchChange 解码开关翻转事件数据
func decodeSwitchChange(data []byte) (*SwitchChange, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("switch change data too short: %d", len(data))
	}
	return &SwitchChange{
		Number: int(data[0]),
		Active: data[1] != 0,
	}, nil
}

// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 投递协议帧编解码 - 数据帧与确认帧的二进制格式
// =============================================================================

package protocol

import (
	"encoding/binary"
	"fmt"
)

// 帧类型
const (
	TypeData = 0x01 // 数据帧 (发送端 -> 接收端)
	TypeAck  = 0x02 // 确认帧 (接收端 -> 发送端)
)

// =============================================================================
// 帧格式常量
// =============================================================================

const (
	// DataHeaderSize 数据帧头大小
	// Type(1) + ID(4) + Timestamp(8) + Acked(1) = 14
	DataHeaderSize = 14

	// AckFrameSize 确认帧大小
	// Type(1) + AckID(4) + Timestamp(8) = 13
	AckFrameSize = 13

	// MaxPayloadSize 单帧最大负载，防止恶意超大帧
	MaxPayloadSize = 64 * 1024
)

// =============================================================================
// 消息结构
// =============================================================================

// DataMessage 数据消息
// ID 在单个会话内单调递增，创建后不可变
type DataMessage struct {
	ID        int32  // 消息序号 (会话内唯一)
	Timestamp int64  // 创建时间 (Unix 秒)
	Acked     bool   // 是否需要确认 (线上格式保留位，当前恒为 false)
	Payload   []byte // 不透明负载
}

// AckMessage 确认消息
// 接收端对每条被接受的消息恰好生成一次
type AckMessage struct {
	AckID     int32 // 被确认的消息序号
	Timestamp int64 // 确认时间 (Unix 秒)
}

// Frame 解析后的帧 (二选一的标签联合)
type Frame struct {
	Type byte
	Data *DataMessage // Type == TypeData 时有效
	Ack  *AckMessage  // Type == TypeAck 时有效
}

// =============================================================================
// 编码
// =============================================================================

// EncodeData 编码数据帧
// 格式: Type(1) + ID(4) + Timestamp(8) + Acked(1) + Payload(N)
func EncodeData(msg *DataMessage) []byte {
	buf := make([]byte, DataHeaderSize+len(msg.Payload))
	buf[0] = TypeData
	binary.BigEndian.PutUint32(buf[1:5], uint32(msg.ID))
	binary.BigEndian.PutUint64(buf[5:13], uint64(msg.Timestamp))
	if msg.Acked {
		buf[13] = 1
	}
	copy(buf[DataHeaderSize:], msg.Payload)
	return buf
}

// EncodeAck 编码确认帧
// 格式: Type(1) + AckID(4) + Timestamp(8)
func EncodeAck(ack *AckMessage) []byte {
	buf := make([]byte, AckFrameSize)
	buf[0] = TypeAck
	binary.BigEndian.PutUint32(buf[1:5], uint32(ack.AckID))
	binary.BigEndian.PutUint64(buf[5:13], uint64(ack.Timestamp))
	return buf
}

// =============================================================================
// 解码
// =============================================================================

// ParseFrame 解析帧
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("帧为空")
	}

	switch data[0] {
	case TypeData:
		return parseData(data)
	case TypeAck:
		return parseAck(data)
	default:
		return nil, fmt.Errorf("未知帧类型: 0x%02X", data[0])
	}
}

func parseData(data []byte) (*Frame, error) {
	if len(data) < DataHeaderSize {
		return nil, fmt.Errorf("数据帧太短: %d < %d", len(data), DataHeaderSize)
	}
	if len(data) > DataHeaderSize+MaxPayloadSize {
		return nil, fmt.Errorf("数据帧负载超限: %d", len(data)-DataHeaderSize)
	}

	msg := &DataMessage{
		ID:        int32(binary.BigEndian.Uint32(data[1:5])),
		Timestamp: int64(binary.BigEndian.Uint64(data[5:13])),
		Acked:     data[13] == 1,
	}
	if msg.ID <= 0 {
		return nil, fmt.Errorf("无效消息序号: %d", msg.ID)
	}
	if len(data) > DataHeaderSize {
		msg.Payload = make([]byte, len(data)-DataHeaderSize)
		copy(msg.Payload, data[DataHeaderSize:])
	}

	return &Frame{Type: TypeData, Data: msg}, nil
}

func parseAck(data []byte) (*Frame, error) {
	if len(data) != AckFrameSize {
		return nil, fmt.Errorf("确认帧长度不正确: %d != %d", len(data), AckFrameSize)
	}

	ack := &AckMessage{
		AckID:     int32(binary.BigEndian.Uint32(data[1:5])),
		Timestamp: int64(binary.BigEndian.Uint64(data[5:13])),
	}
	if ack.AckID <= 0 {
		return nil, fmt.Errorf("无效确认序号: %d", ack.AckID)
	}

	return &Frame{Type: TypeAck, Ack: ack}, nil
}

// IsDataFrame 检查是否是数据帧
func IsDataFrame(data []byte) bool {
	return len(data) >= 1 && data[0] == TypeData
}

// IsAckFrame 检查是否是确认帧
func IsAckFrame(data []byte) bool {
	return len(data) >= 1 && data[0] == TypeAck
}

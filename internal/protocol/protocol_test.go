// =============================================================================
// 文件: internal/protocol/protocol_test.go
// 描述: 投递协议帧编解码测试
// =============================================================================
package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestDataFrameEncodeDecode(t *testing.T) {
	original := &DataMessage{
		ID:        42,
		Timestamp: time.Now().Unix(),
		Acked:     false,
		Payload:   []byte("Message 42"),
	}

	encoded := EncodeData(original)
	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if frame.Type != TypeData {
		t.Fatalf("帧类型不正确: got 0x%02X, want 0x%02X", frame.Type, TypeData)
	}
	decoded := frame.Data
	if decoded.ID != original.ID {
		t.Errorf("ID 不匹配: got %d, want %d", decoded.ID, original.ID)
	}
	if decoded.Timestamp != original.Timestamp {
		t.Errorf("Timestamp 不匹配: got %d, want %d", decoded.Timestamp, original.Timestamp)
	}
	if decoded.Acked != original.Acked {
		t.Errorf("Acked 不匹配: got %v, want %v", decoded.Acked, original.Acked)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload 不匹配: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestDataFrameEmptyPayload(t *testing.T) {
	encoded := EncodeData(&DataMessage{ID: 1, Timestamp: 100})
	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if len(frame.Data.Payload) != 0 {
		t.Errorf("空负载解码不正确: got %d 字节", len(frame.Data.Payload))
	}
}

func TestAckFrameEncodeDecode(t *testing.T) {
	original := &AckMessage{
		AckID:     7,
		Timestamp: time.Now().Unix(),
	}

	encoded := EncodeAck(original)
	if len(encoded) != AckFrameSize {
		t.Fatalf("确认帧长度不正确: got %d, want %d", len(encoded), AckFrameSize)
	}

	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if frame.Type != TypeAck {
		t.Fatalf("帧类型不正确: got 0x%02X, want 0x%02X", frame.Type, TypeAck)
	}
	if frame.Ack.AckID != original.AckID {
		t.Errorf("AckID 不匹配: got %d, want %d", frame.Ack.AckID, original.AckID)
	}
	if frame.Ack.Timestamp != original.Timestamp {
		t.Errorf("Timestamp 不匹配: got %d, want %d", frame.Ack.Timestamp, original.Timestamp)
	}
}

func TestParseFrameErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"空帧", nil},
		{"未知类型", []byte{0xFF, 0x00}},
		{"数据帧太短", []byte{TypeData, 0x00, 0x01}},
		{"确认帧长度错误", []byte{TypeAck, 0x00, 0x01}},
		{"序号为零", EncodeData(&DataMessage{ID: 0, Timestamp: 1})},
	}

	for _, tc := range cases {
		if _, err := ParseFrame(tc.data); err == nil {
			t.Errorf("%s: 应该返回错误", tc.name)
		}
	}
}

func TestParseFramePayloadCopied(t *testing.T) {
	encoded := EncodeData(&DataMessage{ID: 3, Timestamp: 1, Payload: []byte("abc")})
	frame, err := ParseFrame(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	// 修改原始缓冲区不应影响已解析的负载
	encoded[DataHeaderSize] = 'X'
	if string(frame.Data.Payload) != "abc" {
		t.Errorf("负载未拷贝: got %q", frame.Data.Payload)
	}
}

func TestFrameTypePredicate(t *testing.T) {
	data := EncodeData(&DataMessage{ID: 1, Timestamp: 1})
	ack := EncodeAck(&AckMessage{AckID: 1, Timestamp: 1})

	if !IsDataFrame(data) || IsAckFrame(data) {
		t.Error("数据帧判定不正确")
	}
	if !IsAckFrame(ack) || IsDataFrame(ack) {
		t.Error("确认帧判定不正确")
	}
}

// 基准测试
func BenchmarkEncodeData(b *testing.B) {
	msg := &DataMessage{
		ID:        12345,
		Timestamp: time.Now().Unix(),
		Payload:   make([]byte, 256),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodeData(msg)
	}
}

func BenchmarkParseFrame(b *testing.B) {
	encoded := EncodeData(&DataMessage{
		ID:        12345,
		Timestamp: time.Now().Unix(),
		Payload:   make([]byte, 256),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseFrame(encoded)
	}
}

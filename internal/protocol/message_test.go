package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewText(t *testing.T) {
	msg := NewText("hello")

	if msg.Type != TypeText {
		t.Errorf("Expected type %q, got %q", TypeText, msg.Type)
	}
	if msg.MessageID == "" {
		t.Error("Expected generated message id")
	}
	if msg.Content != "hello" {
		t.Errorf("Content mismatch: %q", msg.Content)
	}
	if msg.Timestamp == 0 {
		t.Error("Expected non-zero timestamp")
	}
}

func TestParseEnvelope_LiftsMessageID(t *testing.T) {
	raw, err := json.Marshal(NewText("hi"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	env := ParseEnvelope(raw)
	if env.Kind != KindText {
		t.Errorf("Expected KindText, got %v", env.Kind)
	}
	if env.ID == "" {
		t.Error("Expected message id lifted into envelope")
	}
	if env.Timestamp == 0 {
		t.Error("Expected timestamp")
	}
}

func TestParseEnvelope_BinaryChunk(t *testing.T) {
	framed, err := EncodeFrame("f1", 2, []byte("abc"))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	env := ParseEnvelope(framed)
	if env.Kind != KindFile {
		t.Errorf("Expected KindFile, got %v", env.Kind)
	}
	if env.Timestamp == 0 {
		t.Error("Expected synthesized timestamp")
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size      int64
		chunkSize int
		expected  uint32
	}{
		{0, DefaultChunkSize, 0},
		{1, DefaultChunkSize, 1},
		{DefaultChunkSize, DefaultChunkSize, 1},
		{DefaultChunkSize + 1, DefaultChunkSize, 2},
		{5 * DefaultChunkSize, DefaultChunkSize, 5},
		{100, 0, 0},
	}

	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunkSize); got != tt.expected {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d",
				tt.size, tt.chunkSize, got, tt.expected)
		}
	}
}

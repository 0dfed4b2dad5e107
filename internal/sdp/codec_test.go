package sdp

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const sampleSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"a=candidate:1 1 udp 2122260223 192.168.1.10 51000 typ host generation 0\r\n" +
	"a=candidate:2 1 udp 2122194687 10.0.0.5 51001 typ host generation 0\r\n" +
	"a=candidate:3 1 udp 2122129151 172.17.0.1 51002 typ host generation 0\r\n" +
	"a=candidate:4 1 udp 1685921535 203.0.113.9 61000 typ srflx raddr 192.168.1.10 rport 51000\r\n" +
	"a=candidate:5 1 udp 41819902 198.51.100.7 62000 typ relay raddr 203.0.113.9 rport 61000\r\n" +
	"a=candidate:6 1 udp 1686052607 203.0.113.9 61001 typ prflx raddr 192.168.1.10 rport 51000\r\n" +
	"a=setup:actpass\r\n"

func TestPrune(t *testing.T) {
	pruned := Prune(sampleSDP)

	if strings.Contains(pruned, "172.17.0.1") {
		t.Error("expected third host candidate dropped")
	}
	if !strings.Contains(pruned, "192.168.1.10 51000 typ host") {
		t.Error("expected first host candidate kept")
	}
	if !strings.Contains(pruned, "10.0.0.5 51001 typ host") {
		t.Error("expected second host candidate kept")
	}
	if !strings.Contains(pruned, "typ srflx") {
		t.Error("expected srflx candidate kept")
	}
	if !strings.Contains(pruned, "typ relay") {
		t.Error("expected relay candidate kept")
	}
	if strings.Contains(pruned, "typ prflx") {
		t.Error("expected prflx candidate dropped")
	}
	if !strings.Contains(pruned, "a=setup:actpass") {
		t.Error("expected non-candidate line unchanged")
	}
	if !strings.HasPrefix(pruned, "v=0\r\n") {
		t.Error("expected leading lines unchanged")
	}
}

func TestPrune_Idempotent(t *testing.T) {
	once := Prune(sampleSDP)
	twice := Prune(once)
	if once != twice {
		t.Error("expected Prune to be idempotent")
	}
}

func TestPrune_JSONWrapped(t *testing.T) {
	wrapped := `{"type":"offer","sdp":"v=0\r\na=candidate:1 1 udp 1 10.0.0.1 1 typ host\r\na=candidate:2 1 udp 1 10.0.0.2 2 typ host\r\na=candidate:3 1 udp 1 10.0.0.3 3 typ host\r\n"}`

	pruned := Prune(wrapped)
	if strings.Contains(pruned, "10.0.0.3") {
		t.Error("expected third host candidate dropped from embedded sdp")
	}
	if !strings.Contains(pruned, `"type":"offer"`) {
		t.Error("expected JSON wrapper preserved")
	}
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	code, err := Compress(sampleSDP)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !strings.HasPrefix(code, Prefix) {
		t.Errorf("expected %q prefix, got %q", Prefix, code[:min(len(code), 8)])
	}

	desc, err := Decompress(code)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if desc != Prune(sampleSDP) {
		t.Error("expected decompressed description to equal pruned input")
	}
}

func TestCompress_Shrinks(t *testing.T) {
	big := sampleSDP + strings.Repeat("a=extmap-allow-mixed\r\n", 40)

	code, err := Compress(big)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(code) >= len(big) {
		t.Errorf("expected code shorter than input: %d >= %d", len(code), len(big))
	}
}

func TestDecompress_Legacy(t *testing.T) {
	payload := `{"type":"offer","sdp":"v=0"}`
	code := "XTRANS:" + base64.StdEncoding.EncodeToString([]byte(payload))

	desc, err := Decompress(code)
	if err != nil {
		t.Fatalf("Decompress legacy failed: %v", err)
	}
	if desc != payload {
		t.Errorf("expected %q, got %q", payload, desc)
	}
}

func TestDecompress_RawJSONPassthrough(t *testing.T) {
	payload := `{"type":"answer","sdp":"v=0"}`

	desc, err := Decompress(payload)
	if err != nil {
		t.Fatalf("Decompress passthrough failed: %v", err)
	}
	if desc != payload {
		t.Errorf("expected passthrough, got %q", desc)
	}
}

func TestDecompress_UnknownPrefix(t *testing.T) {
	_, err := Decompress("X9:whatever")
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecompress_CorruptBody(t *testing.T) {
	_, err := Decompress(Prefix + "!!!not-base64!!!")
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for corrupt base64, got %v", err)
	}

	_, err = Decompress(Prefix + base64.RawURLEncoding.EncodeToString([]byte("not gzip")))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for corrupt gzip, got %v", err)
	}
}

func TestIsCompressed(t *testing.T) {
	tests := []struct {
		code     string
		expected bool
	}{
		{Prefix + "abc", true},
		{"XTRANS:abc", false},
		{`{"type":"offer"}`, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsCompressed(tt.code); got != tt.expected {
			t.Errorf("IsCompressed(%q) = %v, want %v", tt.code, got, tt.expected)
		}
	}
}

// Package sdp compresses session descriptions into short transferable
// signaling codes and recovers descriptions from codes.
package sdp

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Prefix tags the current code format: pruned, gzipped, base64.
	Prefix = "X1:"
	// legacyPrefix tags the old plain-base64 format, decode-only.
	legacyPrefix = "XTRANS:"

	maxHostCandidates = 2
)

var ErrDecode = errors.New("unrecognized signaling code")

// Compress prunes the description, gzips it and returns the versioned
// code. Pruning is lossy: Decompress(Compress(x)) equals Prune(x), not x.
func Compress(desc string) (string, error) {
	pruned := Prune(desc)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(pruned)); err != nil {
		return "", fmt.Errorf("compressing description: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing description: %w", err)
	}

	return Prefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress recognizes three forms: the current versioned code, the
// legacy base64 code, and raw JSON passed through unchanged. Anything else
// fails with ErrDecode.
func Decompress(code string) (string, error) {
	switch {
	case strings.HasPrefix(code, Prefix):
		raw, err := base64.RawURLEncoding.DecodeString(code[len(Prefix):])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		desc, err := io.ReadAll(zr)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if err := zr.Close(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return string(desc), nil

	case strings.HasPrefix(code, legacyPrefix):
		raw, err := base64.StdEncoding.DecodeString(code[len(legacyPrefix):])
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return string(raw), nil

	case strings.HasPrefix(strings.TrimSpace(code), "{"):
		return code, nil

	default:
		return "", ErrDecode
	}
}

// IsCompressed reports whether code carries the current version tag.
func IsCompressed(code string) bool {
	return strings.HasPrefix(code, Prefix)
}

// Prune drops candidate lines that do not help connectivity: host
// candidates past the first two are redundant, server-reflexive and relay
// candidates are kept in full, every other candidate type is removed.
// Non-candidate lines pass through untouched. Accepts raw SDP text or a
// JSON-wrapped description and prunes the embedded sdp in the latter case.
func Prune(desc string) string {
	if strings.HasPrefix(strings.TrimSpace(desc), "{") {
		var wrapped struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if err := json.Unmarshal([]byte(desc), &wrapped); err == nil && wrapped.SDP != "" {
			wrapped.SDP = pruneLines(wrapped.SDP)
			if out, err := json.Marshal(wrapped); err == nil {
				return string(out)
			}
		}
		return desc
	}
	return pruneLines(desc)
}

func pruneLines(desc string) string {
	lines := strings.Split(desc, "\n")
	kept := make([]string, 0, len(lines))
	hosts := 0

	for _, line := range lines {
		if !strings.HasPrefix(line, "a=candidate:") {
			kept = append(kept, line)
			continue
		}
		switch candidateType(line) {
		case "host":
			if hosts < maxHostCandidates {
				hosts++
				kept = append(kept, line)
			}
		case "srflx", "relay":
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}

// candidateType extracts the value following the "typ" token of a
// candidate line.
func candidateType(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "typ" && i+1 < len(fields) {
			return strings.TrimRight(fields[i+1], "\r")
		}
	}
	return ""
}

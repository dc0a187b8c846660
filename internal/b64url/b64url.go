// Package b64url implements the URL-safe base64 variant Gmail uses for raw
// message payloads and part bodies.
package b64url

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDecode reports malformed URL-safe base64 input.
var ErrDecode = errors.New("decode error")

var (
	toStd = strings.NewReplacer("-", "+", "_", "/")
	toURL = strings.NewReplacer("+", "-", "/", "_", "=", "")
)

// Decode converts URL-safe base64 to bytes. Padding is optional.
func Decode(s string) ([]byte, error) {
	std := toStd.Replace(s)
	if rem := len(std) % 4; rem != 0 && !strings.HasSuffix(std, "=") {
		std += strings.Repeat("=", 4-rem)
	}
	out, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return out, nil
}

// DecodeString decodes s and interprets the result as UTF-8 text.
func DecodeString(s string) (string, error) {
	out, err := Decode(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("%w: payload is not valid utf-8", ErrDecode)
	}
	return string(out), nil
}

// Encode returns the unpadded URL-safe base64 form of b.
func Encode(b []byte) string {
	return toURL.Replace(base64.StdEncoding.EncodeToString(b))
}

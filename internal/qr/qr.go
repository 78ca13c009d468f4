// Package qr renders pairing challenges as QR images.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge length in pixels.
const DefaultSize = 256

// RenderPNG encodes the challenge payload as a PNG QR image.
func RenderPNG(challenge string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(challenge, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// RenderDataURI renders the challenge as an inline image for websocket
// payloads.
func RenderDataURI(challenge string) (string, error) {
	png, err := RenderPNG(challenge, DefaultSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

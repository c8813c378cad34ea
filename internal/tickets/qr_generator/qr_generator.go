package qr

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// QRGenerator renders the compact signed token into a PNG. The image is a
// convenience copy; authenticity always comes from the token it encodes.
type QRGenerator struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = DefaultSize
	}
	return &QRGenerator{size: size, level: qrcode.Medium}
}

func (q *QRGenerator) Render(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	png, err := qrcode.Encode(token, q.level, q.size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR: %w", err)
	}
	return png, nil
}

package qrlink

import (
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Builder derives scannable submission links for the current slot. The
// canonical link carries the slot key and shared secret; a device id is
// appended only when the client already knows one.
type Builder struct {
	baseURL string
	secret  string
}

// NewBuilder creates a builder rooted at baseURL, the externally reachable
// address the QR payload must point at.
func NewBuilder(baseURL, secret string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/"), secret: secret}
}

// Link returns the submission URL for slotKey. cid may be empty, in which case
// the client-side redirect attaches one later.
func (b *Builder) Link(slotKey, cid string) string {
	params := url.Values{}
	params.Set("key", slotKey)
	params.Set("s", b.secret)
	if cid != "" {
		params.Set("cid", cid)
	}
	return b.baseURL + "/?" + params.Encode()
}

// QRPNG renders link as a PNG-encoded QR code, sized for a phone camera at
// arm's length.
func (b *Builder) QRPNG(link string) ([]byte, error) {
	return qrcode.Encode(link, qrcode.Medium, 256)
}

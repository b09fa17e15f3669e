package telegram

import (
	"strconv"
	"strings"
)

const (
	// DefaultLinkBase is the public deep-link prefix for private supergroups and channels.
	DefaultLinkBase = "https://t.me/c"
	// DefaultStripPrefix is the marker Telegram prepends to supergroup ids ("-100...").
	DefaultStripPrefix = "100"
)

// LinkBuilder derives message deep links.
type LinkBuilder struct {
	Base        string
	StripPrefix string
}

// DefaultLinkBuilder returns the t.me/c builder.
func DefaultLinkBuilder() LinkBuilder {
	return LinkBuilder{Base: DefaultLinkBase, StripPrefix: DefaultStripPrefix}
}

// Build returns <Base>/<channel>/<messageID>, where channel is |chatID| in decimal
// with StripPrefix removed once when present.
func (b LinkBuilder) Build(chatID, messageID int64) string {
	base := strings.TrimRight(b.Base, "/")
	if base == "" {
		base = DefaultLinkBase
	}

	channel := strconv.FormatUint(absInt64(chatID), 10)
	if b.StripPrefix != "" {
		channel = strings.TrimPrefix(channel, b.StripPrefix)
	}

	return base + "/" + channel + "/" + strconv.FormatInt(messageID, 10)
}

// absInt64 returns |v| as uint64; math.MinInt64 has no int64 absolute value.
func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

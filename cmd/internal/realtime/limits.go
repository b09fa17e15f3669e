package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Client calls are tiny.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Max profile topics one connection may follow at a time.
	maxProfileTopics = 16

	// Max length of a user id used in a topic name.
	maxTopicIDLen = 64
)

const (
	// Heartbeat defaults, overridable through WSConfig.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)

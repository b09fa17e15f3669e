// Package v1 defines the CarAds Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server, the smoke tool and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Client -> server types (wire-stable).
const (
	// TypeHello starts a session handshake.
	TypeHello = "hello"
	// TypeOnlineCountGet asks for the current online count (answered to the caller only).
	TypeOnlineCountGet = "online_count_get"
	// TypeProfileJoin subscribes the connection to a profile topic. It is echoed back on success.
	TypeProfileJoin = "profile_join"
	// TypeProfileLeave unsubscribes the connection from a profile topic. It is echoed back on success.
	TypeProfileLeave = "profile_leave"
)

// Server -> client types (wire-stable).
const (
	TypeHelloAck    = "hello_ack"
	TypeOnlineCount = "online_count"
	TypeError       = "error"

	// Ingestion feed.
	TypeTelegramMessageNew = "telegram_message_new"
	TypeTelegramTodayCount = "telegram_today_count"

	// View stats.
	TypeAdViewUpdated     = "ad_view_updated"
	TypeTodayViewsUpdated = "today_views_updated"

	// Listing events.
	TypeCarAdApproved       = "car_ad_approved"
	TypeCarAdCreatedForUser = "car_ad_created_for_user"
	TypeCarAdUpdated        = "car_ad_updated"
	TypeMyCarAdUpdated      = "my_car_ad_updated"
	TypeCarAdDeleted        = "car_ad_deleted"
	TypeMyCarAdDeleted      = "my_car_ad_deleted"

	// Bio events.
	TypeBioItemAdded   = "bio_item_added"
	TypeBioItemUpdated = "bio_item_updated"
	TypeBioItemDeleted = "bio_item_deleted"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an inbound (client -> server) Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeOnlineCountGet,
		TypeProfileJoin,
		TypeProfileLeave:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the session id and the identity resolved at connect time.
type HelloAckPayload struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id,omitempty"`
	Role      string   `json:"role,omitempty"`
	Topics    []string `json:"topics"`
}

// OnlineCountPayload carries the number of open realtime connections.
type OnlineCountPayload struct {
	Count int64 `json:"count"`
}

// ProfileTopicPayload names the profile whose live updates the client wants.
type ProfileTopicPayload struct {
	UserID string `json:"user_id"`
}

// TelegramMessagePayload is the public view of an ingested message.
// ReceivedAt is always UTC so clients never re-interpret it in local time.
type TelegramMessagePayload struct {
	ID            int64     `json:"id"`
	MessageID     int64     `json:"messageId"`
	Text          string    `json:"text"`
	FromUsername  string    `json:"fromUsername"`
	FromFirstName string    `json:"fromFirstName"`
	ReceivedAt    time.Time `json:"receivedAt"`
	TelegramLink  string    `json:"telegramLink"`
}

// CountPayload is a generic counter update.
type CountPayload struct {
	Count int `json:"count"`
}

// AdViewPayload notifies a listing owner about a new view.
type AdViewPayload struct {
	AdID      int64 `json:"ad_id"`
	ViewCount int64 `json:"view_count"`
}

// AdDeletedPayload is broadcast when a listing is removed.
type AdDeletedPayload struct {
	AdID   int64  `json:"ad_id"`
	UserID string `json:"user_id,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package realtime

import "strings"

// Topic name prefixes.
const (
	userTopicPrefix    = "user:"
	profileTopicPrefix = "profile:"

	// AdminTopic groups connections authenticated with the admin role.
	AdminTopic = "role:admin"
)

// UserTopic addresses every connection of one user.
func UserTopic(userID string) string { return userTopicPrefix + userID }

// ProfileTopic addresses everyone watching a user's public profile.
func ProfileTopic(userID string) string { return profileTopicPrefix + userID }

// identityTopics lists the topics a connection joins at connect time.
func identityTopics(c *Client) []string {
	if c.Identity.Anonymous() {
		return nil
	}
	out := []string{UserTopic(c.Identity.UserID)}
	if c.Identity.IsAdmin() {
		out = append(out, AdminTopic)
	}
	return out
}

// validTopicID accepts ids made of [A-Za-z0-9_-], 1..maxTopicIDLen long.
func validTopicID(id string) bool {
	if id == "" || len(id) > maxTopicIDLen {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return false
		default:
			return true
		}
	}) < 0
}

package realtime

import (
	v1 "carads/contracts/realtime/v1"
)

// Pusher is the fan-out surface the Notifier needs.
type Pusher interface {
	PushAll(event string, payload any) int
	PushTo(topic, event string, payload any) int
}

// Notifier maps domain changes made by the listing and bio services to named events.
// Payloads are passed through as given; they must be JSON-marshalable.
type Notifier struct {
	p Pusher
}

// NewNotifier returns a Notifier over p.
func NewNotifier(p Pusher) *Notifier { return &Notifier{p: p} }

// ListingApproved announces a listing that became public.
func (n *Notifier) ListingApproved(listing any) int {
	return n.p.PushAll(v1.TypeCarAdApproved, listing)
}

// ListingCreatedForUser tells the owner their listing was created.
func (n *Notifier) ListingCreatedForUser(userID string, listing any) int {
	return n.p.PushTo(UserTopic(userID), v1.TypeCarAdCreatedForUser, listing)
}

// ListingUpdated announces an edit to everyone and to the owner's own dashboard.
func (n *Notifier) ListingUpdated(userID string, listing any) int {
	sent := n.p.PushAll(v1.TypeCarAdUpdated, listing)
	if userID != "" {
		sent += n.p.PushTo(UserTopic(userID), v1.TypeMyCarAdUpdated, listing)
	}
	return sent
}

// ListingDeleted announces a removal to everyone and to the owner.
func (n *Notifier) ListingDeleted(listingID int64, userID string) int {
	sent := n.p.PushAll(v1.TypeCarAdDeleted, v1.AdDeletedPayload{AdID: listingID, UserID: userID})
	if userID != "" {
		sent += n.p.PushTo(UserTopic(userID), v1.TypeMyCarAdDeleted, v1.AdDeletedPayload{AdID: listingID})
	}
	return sent
}

// BioItemAdded notifies the owner and the profile's watchers.
func (n *Notifier) BioItemAdded(userID string, item any) int {
	return n.bio(userID, v1.TypeBioItemAdded, item)
}

// BioItemUpdated notifies the owner and the profile's watchers.
func (n *Notifier) BioItemUpdated(userID string, item any) int {
	return n.bio(userID, v1.TypeBioItemUpdated, item)
}

// BioItemDeleted notifies the owner and the profile's watchers.
func (n *Notifier) BioItemDeleted(userID string, item any) int {
	return n.bio(userID, v1.TypeBioItemDeleted, item)
}

// AdminEvent sends event to admin connections only.
func (n *Notifier) AdminEvent(event string, payload any) int {
	return n.p.PushTo(AdminTopic, event, payload)
}

func (n *Notifier) bio(userID, event string, item any) int {
	if userID == "" {
		return 0
	}
	return n.p.PushTo(UserTopic(userID), event, item) +
		n.p.PushTo(ProfileTopic(userID), event, item)
}

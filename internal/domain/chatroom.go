package domain

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Chatroom is the two-party conversation between ParticipantA and ParticipantB.
// The pair is stored normalized (ParticipantA < ParticipantB).
type Chatroom struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	CreatedAt     time.Time  `json:"created_at"`
	ExitedBy      []string   `json:"exited_by"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastMessageID int64      `json:"last_message_id"`
}

// NormalizePair orders two user ids so that the same unordered pair always
// maps to the same (a, b).
func NormalizePair(userA, userB string) (string, string) {
	if strings.Compare(userA, userB) > 0 {
		return userB, userA
	}
	return userA, userB
}

// ValidatePair checks that two ids can form a room.
func ValidatePair(userA, userB string) error {
	if strings.TrimSpace(userA) == "" || strings.TrimSpace(userB) == "" {
		return ErrEmptyUserID
	}
	if userA == userB {
		return ErrSelfChat
	}
	return nil
}

// IsParticipant reports whether userID is one of the two participants.
func (c *Chatroom) IsParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// Counterpart returns the other participant, or "" when userID is not a participant.
func (c *Chatroom) Counterpart(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// HasExited reports whether userID is in ExitedBy.
func (c *Chatroom) HasExited(userID string) bool {
	for _, id := range c.ExitedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the room belongs in userID's listing.
func (c *Chatroom) VisibleTo(userID string) bool {
	return c.IsParticipant(userID) && !c.HasExited(userID)
}

// SortForListing orders rooms newest activity first: LastMessageAt descending,
// rooms without messages last, ties broken by id descending.
func SortForListing(rooms []*Chatroom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		a, b := rooms[i], rooms[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		return a.ID > b.ID
	})
}

// ChatroomRepository defines the interface for chatroom data access
type ChatroomRepository interface {
	// FindOrCreate returns the room for the normalized pair, creating it when
	// absent. created is true only for the call that inserted the room.
	FindOrCreate(ctx context.Context, participantA, participantB string) (room *Chatroom, created bool, err error)
	GetByID(ctx context.Context, id string) (*Chatroom, error)
	// ListVisible returns rooms where userID participates and has not exited,
	// in listing order.
	ListVisible(ctx context.Context, userID string) ([]*Chatroom, error)
	// AddExit adds userID to the room's ExitedBy set.
	AddExit(ctx context.Context, roomID, userID string) error
}

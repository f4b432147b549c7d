package domain

import "time"

type Room struct {
	ID             RoomID     `json:"id"`
	Active         bool       `json:"active"`
	CurrentVideoID string     `json:"current_video_id"`
	AdminID        GuestID    `json:"admin_id"`
	CreatedAt      time.Time  `json:"created_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// RoomSnapshot is an immutable copy of a room's state at Version. It is
// what readers see and what gets persisted.
type RoomSnapshot struct {
	Version  uint64        `json:"version"`
	Room     Room          `json:"room"`
	Guests   []Guest       `json:"guests"`
	Playback PlaybackState `json:"playback"`
	Requests []Request     `json:"requests"`
}

func (s *RoomSnapshot) Guest(id GuestID) (Guest, bool) {
	for _, g := range s.Guests {
		if g.ID == id {
			return g, true
		}
	}
	return Guest{}, false
}

// GuestsWithStatus returns guests in join order.
func (s *RoomSnapshot) GuestsWithStatus(status GuestStatus) []Guest {
	var out []Guest
	for _, g := range s.Guests {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out
}

// Roster returns the approved guests as client views.
func (s *RoomSnapshot) Roster(now time.Time, staleAfter time.Duration) []GuestView {
	approved := s.GuestsWithStatus(GuestApproved)
	views := make([]GuestView, 0, len(approved))
	for _, g := range approved {
		views = append(views, g.View(now, staleAfter))
	}
	return views
}

// RoomStatus answers the room existence and activity query.
type RoomStatus struct {
	RoomID         RoomID        `json:"room_id"`
	Active         bool          `json:"active"`
	CurrentVideoID string        `json:"current_video_id"`
	GuestCount     int           `json:"guest_count"`
	OnlineCount    int           `json:"online_count"`
	Playback       PlaybackState `json:"playback"`
}

func (s *RoomSnapshot) Status() RoomStatus {
	st := RoomStatus{
		RoomID:         s.Room.ID,
		Active:         s.Room.Active,
		CurrentVideoID: s.Room.CurrentVideoID,
		Playback:       s.Playback,
	}
	for _, g := range s.Guests {
		if g.Status != GuestApproved {
			continue
		}
		st.GuestCount++
		if g.Online {
			st.OnlineCount++
		}
	}
	return st
}

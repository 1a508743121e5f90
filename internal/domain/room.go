package domain

import "errors"

const MaxRoomIDLen = 64

var ErrRoomIDEmpty = errors.New("room id empty")

type RoomID string

// ParseRoomID validates an externally supplied room id.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		raw = raw[:MaxRoomIDLen]
	}
	return RoomID(raw), nil
}

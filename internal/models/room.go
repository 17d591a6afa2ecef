package models

// RoomInfo is the read-only view of a live room returned by the rooms API
type RoomInfo struct {
	ID           string   `json:"id"`
	Participants int      `json:"participants"`
	ClientIDs    []string `json:"clientIds,omitempty"`
}

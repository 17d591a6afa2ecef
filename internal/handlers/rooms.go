package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signal-relay/internal/models"
)

// RoomDirectory exposes read-only views of the live rooms.
type RoomDirectory interface {
	RoomInfo(roomID string) (models.RoomInfo, bool)
	Rooms() []models.RoomInfo
}

// GetRoom returns membership information for a live room
func GetRoom(dir RoomDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, ok := dir.RoomInfo(c.Param("roomId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// ListRooms returns every live room
func ListRooms(dir RoomDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": dir.Rooms()})
	}
}

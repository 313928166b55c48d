package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kfirel/hiker/internal/gazetteer"
	"github.com/kfirel/hiker/pkg/common"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/geo"
)

// Handler handles HTTP requests for admin operations.
type Handler struct {
	service *Service
	gaz     *gazetteer.Gazetteer
}

// NewHandler creates a new admin handler.
func NewHandler(service *Service, gaz *gazetteer.Gazetteer) *Handler {
	return &Handler{service: service, gaz: gaz}
}

// RegisterRoutes mounts the admin endpoints on a router group. The group is
// expected to carry the bearer-token middleware already.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:phone/records", h.UserRecords)
	rg.DELETE("/users/:phone", h.DeleteUser)
	rg.POST("/users/:phone/reset", h.ResetUser)
	rg.POST("/users/:phone/phone", h.ChangePhone)
	rg.GET("/gazetteer/nearest", h.NearestSettlement)
}

// requestPrefix selects the live or sandbox namespace from the query string.
func requestPrefix(c *gin.Context) string {
	if c.Query("sandbox") == "true" {
		return config.PrefixSandbox
	}
	return config.PrefixLive
}

// ListUsers returns a summary of all registered users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context(), requestPrefix(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// UserRecords returns one user's rides and requests.
func (h *Handler) UserRecords(c *gin.Context) {
	drives, reqs, err := h.service.UserRecords(c.Request.Context(), requestPrefix(c), c.Param("phone"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_rides": drives, "hitchhiker_requests": reqs})
}

// DeleteUser removes a user document entirely.
func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.service.DeleteUser(c.Request.Context(), requestPrefix(c), c.Param("phone")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ResetUser clears a user's records and chat history.
func (h *Handler) ResetUser(c *gin.Context) {
	err := h.service.ResetUser(c.Request.Context(), requestPrefix(c), c.Param("phone"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type changePhoneRequest struct {
	NewPhone string `json:"new_phone" binding:"required"`
}

// ChangePhone migrates a user document to a new phone number.
func (h *Handler) ChangePhone(c *gin.Context) {
	var req changePhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_phone is required"})
		return
	}

	err := h.service.ChangePhone(c.Request.Context(), requestPrefix(c), c.Param("phone"), req.NewPhone)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change phone"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "migrated", "new_phone": req.NewPhone})
}

// NearestSettlement resolves the settlement closest to a coordinate. Used to
// diagnose why a reported location did not geocode.
func (h *Handler) NearestSettlement(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}

	p := geo.Point{Lat: lat, Lon: lon}
	entry, ok := h.gaz.Nearest(p)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No settlement nearby"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        entry.NameHe,
		"name_en":     entry.NameEn,
		"kind":        entry.Kind,
		"distance_km": geo.Haversine(p, entry.Point()),
	})
}

package user

import (
	"errors"
	"net/http"

	"github.com/WISVCH/CHPay-sub001/internal/api"
	"github.com/WISVCH/CHPay-sub001/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetMe returns the authenticated user including the current balance.
func (h *Handler) GetMe(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		api.Abort(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.service.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	u, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) SetRFID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req SetRFIDRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	if err := h.service.AssignRFID(c.Request.Context(), id, req.Tag); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "rfid assigned"})
}

func (h *Handler) ClearRFID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.ClearRFID(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "rfid removed"})
}

func (h *Handler) SetBanned(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req SetBannedRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	if err := h.service.SetBanned(c.Request.Context(), id, req.Banned); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "ban status updated"})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		api.Abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRFIDTaken):
		api.Abort(c, http.StatusConflict, err.Error())
	default:
		api.Abort(c, http.StatusInternalServerError, "Database error")
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.Abort(c, http.StatusBadRequest, "Invalid user ID")
		return uuid.Nil, false
	}
	return id, true
}

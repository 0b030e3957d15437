package settings

import (
	"net/http"

	"github.com/WISVCH/CHPay-sub001/internal/api"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context())
	if err != nil {
		api.Abort(c, http.StatusInternalServerError, "Database error")
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()
	s, err := h.store.Get(ctx)
	if err != nil {
		api.Abort(c, http.StatusInternalServerError, "Database error")
		return
	}

	req.apply(s)
	if s.MinTopUp.GreaterThan(s.MaxBalance) {
		api.Abort(c, http.StatusBadRequest, "min_top_up cannot exceed max_balance")
		return
	}

	if err := h.store.Update(ctx, s); err != nil {
		api.Abort(c, http.StatusInternalServerError, "Database error")
		return
	}

	logger.Info("system settings updated",
		"frozen", s.Frozen,
		"max_balance", s.MaxBalance.StringFixed(2),
		"min_top_up", s.MinTopUp.StringFixed(2),
	)
	c.JSON(http.StatusOK, s)
}

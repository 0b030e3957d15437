package topup

import (
	"errors"
	"net/http"

	"github.com/WISVCH/CHPay-sub001/internal/api"
	"github.com/WISVCH/CHPay-sub001/internal/auth"
	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/lock"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/WISVCH/CHPay-sub001/internal/transaction"
	"github.com/WISVCH/CHPay-sub001/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) StartTopUp(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		api.Abort(c, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req CreateTopUpRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	resp, err := h.service.StartTopUp(c.Request.Context(), userID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) RetryCheckout(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		api.Abort(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.Abort(c, http.StatusBadRequest, "Invalid ID")
		return
	}

	resp, err := h.service.RetryCheckout(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ValidateTopUp(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		api.Abort(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.Abort(c, http.StatusBadRequest, "Invalid ID")
		return
	}

	t, err := h.service.ValidateTopUp(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !t.OwnedBy(userID) {
		api.Abort(c, http.StatusNotFound, transaction.ErrTransactionNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, t)
}

// ProviderWebhook receives the provider's status callback. The body only
// carries the provider reference; the status is always fetched from the
// provider itself.
func (h *Handler) ProviderWebhook(c *gin.Context) {
	ref := c.PostForm("id")
	if ref == "" {
		api.Abort(c, http.StatusBadRequest, "Missing id")
		return
	}

	err := h.service.HandleProviderWebhook(c.Request.Context(), ref)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, transaction.ErrTransactionNotFound):
		logger.Warn("webhook for unknown checkout", "provider_ref", ref)
		c.Status(http.StatusOK)
	default:
		logger.Error("provider webhook failed", "provider_ref", ref, "error", err)
		api.Abort(c, http.StatusInternalServerError, "Failed to process webhook")
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transaction.ErrTransactionNotFound),
		errors.Is(err, user.ErrUserNotFound):
		api.Abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotTopUp):
		api.Abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrBelowMinimumTopUp):
		api.Abort(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, settings.ErrBalanceCeilingExceeded),
		errors.Is(err, ledger.ErrInvalidTransactionState),
		errors.Is(err, ErrNotPending),
		errors.Is(err, ErrNoCheckout),
		errors.Is(err, transaction.ErrCheckoutAlreadyOpen),
		errors.Is(err, lock.ErrNotAcquired):
		api.Abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, settings.ErrSystemFrozen):
		api.Abort(c, http.StatusLocked, err.Error())
	case errors.Is(err, ErrProviderError):
		api.Abort(c, http.StatusBadGateway, "Payment provider unavailable")
	case errors.Is(err, db.ErrLockTimeout):
		api.Abort(c, http.StatusServiceUnavailable, "Ledger busy, try again")
	default:
		logger.Error("top-up request failed", "path", c.FullPath(), "error", err)
		api.Abort(c, http.StatusInternalServerError, "Internal error")
	}
}

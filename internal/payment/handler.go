package payment

import (
	"errors"
	"net/http"

	"github.com/WISVCH/CHPay-sub001/internal/api"
	"github.com/WISVCH/CHPay-sub001/internal/auth"
	"github.com/WISVCH/CHPay-sub001/internal/db"
	"github.com/WISVCH/CHPay-sub001/internal/ledger"
	"github.com/WISVCH/CHPay-sub001/internal/logger"
	"github.com/WISVCH/CHPay-sub001/internal/paymentrequest"
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

func (h *Handler) CreateRequest(c *gin.Context) {
	var req paymentrequest.CreateRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	pr, err := h.service.CreateRequest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pr)
}

func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	pr, err := h.service.GetRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pr)
}

func (h *Handler) TransactionFromRequest(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c)
	if !ok {
		return
	}

	t, err := h.service.TransactionFromRequest(c.Request.Context(), requestID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) FulfillTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	transactionID, ok := pathID(c)
	if !ok {
		return
	}

	t, err := h.service.FulfillTransaction(c.Request.Context(), transactionID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) CreateExternalTransaction(c *gin.Context) {
	var req CreateExternalRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	t, err := h.service.CreateExternalTransaction(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) FulfillExternalTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	transactionID, ok := pathID(c)
	if !ok {
		return
	}

	res, err := h.service.FulfillExternalTransaction(c.Request.Context(), transactionID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RefundTransaction(c *gin.Context) {
	transactionID, ok := pathID(c)
	if !ok {
		return
	}

	refund, err := h.service.RefundTransaction(c.Request.Context(), transactionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) PartialRefund(c *gin.Context) {
	transactionID, ok := pathID(c)
	if !ok {
		return
	}

	var req PartialRefundRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	refund, err := h.service.PartialRefund(c.Request.Context(), transactionID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

// PayWithRFID is called by point-of-sale terminals.
func (h *Handler) PayWithRFID(c *gin.Context) {
	requestID, ok := pathID(c)
	if !ok {
		return
	}

	var req RFIDPaymentRequest
	if !api.BindAndValidate(c, &req) {
		return
	}

	payer, err := h.service.PayFromRequest(c.Request.Context(), req.Tag, requestID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RFIDPaymentResponse{Payer: payer})
}

func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	transactionID, ok := pathID(c)
	if !ok {
		return
	}

	t, err := h.service.GetTransaction(c.Request.Context(), transactionID)
	if err != nil {
		writeError(c, err)
		return
	}
	// Unclaimed external payments are visible to any payer.
	if t.UserID.Valid && !t.OwnedBy(userID) {
		api.Abort(c, http.StatusNotFound, transaction.ErrTransactionNotFound.Error())
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var page api.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		api.Abort(c, http.StatusBadRequest, "Invalid pagination")
		return
	}
	if errs := api.ValidateStruct(&page); len(errs) > 0 {
		api.RespondWithValidationErrors(c, errs)
		return
	}

	list, err := h.service.ListTransactions(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transaction.ErrTransactionNotFound),
		errors.Is(err, paymentrequest.ErrRequestNotFound),
		errors.Is(err, user.ErrUserNotFound):
		api.Abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		api.Abort(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ledger.ErrUserMismatch),
		errors.Is(err, ledger.ErrUserBanned):
		api.Abort(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrInvalidTransactionState),
		errors.Is(err, ledger.ErrIllegalRefund),
		errors.Is(err, ledger.ErrRequestAlreadyFulfilled),
		errors.Is(err, settings.ErrBalanceCeilingExceeded):
		api.Abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount):
		api.Abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrSystemFrozen):
		api.Abort(c, http.StatusLocked, err.Error())
	case errors.Is(err, db.ErrLockTimeout):
		api.Abort(c, http.StatusServiceUnavailable, "Ledger busy, try again")
	default:
		logger.Error("payment request failed", "path", c.FullPath(), "error", err)
		api.Abort(c, http.StatusInternalServerError, "Internal error")
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		api.Abort(c, http.StatusUnauthorized, "User not authenticated")
	}
	return userID, ok
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		api.Abort(c, http.StatusBadRequest, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

package payment

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WISVCH/CHPay-sub001/internal/settings"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentRouter(f *fixture, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	router.POST("/requests", h.CreateRequest)
	router.GET("/requests/:id", h.GetRequest)
	router.POST("/requests/:id/transaction", h.TransactionFromRequest)
	router.POST("/requests/:id/rfid", h.PayWithRFID)
	router.GET("/transactions", h.ListTransactions)
	router.GET("/transactions/:id", h.GetTransaction)
	router.POST("/transactions/:id/pay", h.FulfillTransaction)
	router.POST("/transactions/:id/refund", h.RefundTransaction)
	router.POST("/transactions/:id/partial-refund", h.PartialRefund)
	router.POST("/external", h.CreateExternalTransaction)
	router.POST("/external/:id/pay", h.FulfillExternalTransaction)
	return router
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_RequestToPayment(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "50.00")
	router := newPaymentRouter(f, u.ID)

	w := doJSON(router, http.MethodPost, "/requests", `{"amount": "30.00", "description": "lunch"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var pr struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pr))

	w = doJSON(router, http.MethodPost, "/requests/"+pr.ID.String()+"/transaction", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tx struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))

	w = doJSON(router, http.MethodPost, "/transactions/"+tx.ID.String()+"/pay", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"successful"`)

	w = doJSON(router, http.MethodPost, "/transactions/"+tx.ID.String()+"/pay", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodGet, "/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), tx.ID.String())
}

func TestHandler_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "5.00")
	router := newPaymentRouter(f, u.ID)

	pr := f.store.AddRequest("30.00", false)
	tx, err := f.svc.TransactionFromRequest(t.Context(), pr.ID, u.ID)
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/transactions/"+tx.ID.String()+"/pay", "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = doJSON(router, http.MethodPost, "/transactions/"+uuid.NewString()+"/pay", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodPost, "/transactions/not-a-uuid/pay", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/requests", `{"amount": "0", "description": "free"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.store.SetSettings(func(s *settings.Settings) { s.Frozen = true })
	w = doJSON(router, http.MethodPost, "/requests/"+pr.ID.String()+"/transaction", "")
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestHandler_GetTransactionHidesOthers(t *testing.T) {
	f := newFixture(t)
	alice := f.store.AddUser("alice", "50.00")
	bob := f.store.AddUser("bob", "50.00")

	tx, err := f.svc.TransactionFromRequest(t.Context(), f.store.AddRequest("5.00", false).ID, alice.ID)
	require.NoError(t, err)

	w := doJSON(newPaymentRouter(f, bob.ID), http.MethodGet, "/transactions/"+tx.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(newPaymentRouter(f, alice.ID), http.MethodGet, "/transactions/"+tx.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_ExternalAndRefund(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "50.00")
	router := newPaymentRouter(f, u.ID)

	w := doJSON(router, http.MethodPost, "/external", `{
		"amount": "20.00",
		"description": "ticket",
		"redirect_url": "https://shop.example/done",
		"webhook_url": "https://shop.example/hook",
		"fallback_url": "https://shop.example/fallback"
	}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(router, http.MethodPost, "/external/"+created.ID.String()+"/pay", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		RedirectURL    string `json:"redirect_url"`
		AlreadySettled bool   `json:"already_settled"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.AlreadySettled)
	assert.Equal(t, "https://shop.example/done", res.RedirectURL)

	w = doJSON(router, http.MethodPost, "/transactions/"+created.ID.String()+"/partial-refund", `{"amount": "25.00"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodPost, "/transactions/"+created.ID.String()+"/refund", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, f.store.User(u.ID).Balance.Equal(dec("50.00")))
}

func TestHandler_PayWithRFID(t *testing.T) {
	f := newFixture(t)
	u := f.store.AddUser("alice", "10.00")
	require.NoError(t, f.store.Users().SetRFID(t.Context(), u.ID, strPtr("04A2B3C4")))
	pr := f.store.AddRequest("2.00", true)
	router := newPaymentRouter(f, uuid.New())

	w := doJSON(router, http.MethodPost, "/requests/"+pr.ID.String()+"/rfid", `{"tag": "04A2B3C4"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"payer": "alice"}`, w.Body.String())

	w = doJSON(router, http.MethodPost, "/requests/"+pr.ID.String()+"/rfid", `{"tag": "DEADBEEF"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

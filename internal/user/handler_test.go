package user

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestRouter(repo *MockUserRepo, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewService(repo))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	router.GET("/me", h.GetMe)
	router.PUT("/admin/users/:id/rfid", h.SetRFID)
	router.PUT("/admin/users/:id/ban", h.SetBanned)
	return router
}

func TestGetMe(t *testing.T) {
	repo := new(MockUserRepo)
	id := uuid.New()
	router := newTestRouter(repo, id)

	repo.On("FindByID", mock.Anything, id).
		Return(&User{ID: id, Name: "Alice", Balance: decimal.RequireFromString("42.10")}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":"42.1"`)
}

func TestGetMe_NotFound(t *testing.T) {
	repo := new(MockUserRepo)
	id := uuid.New()
	router := newTestRouter(repo, id)

	repo.On("FindByID", mock.Anything, id).Return(nil, ErrUserNotFound)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetRFID_Handler(t *testing.T) {
	repo := new(MockUserRepo)
	target := uuid.New()
	router := newTestRouter(repo, uuid.New())

	t.Run("conflict", func(t *testing.T) {
		repo.On("SetRFID", mock.Anything, target, mock.Anything).Return(ErrRFIDTaken).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/admin/users/"+target.String()+"/rfid", bytes.NewBufferString(`{"tag":"04A2B3C4"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("too short", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/admin/users/"+target.String()+"/rfid", bytes.NewBufferString(`{"tag":"ab"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/admin/users/nope/rfid", bytes.NewBufferString(`{"tag":"04A2B3C4"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSetBanned_Handler(t *testing.T) {
	repo := new(MockUserRepo)
	target := uuid.New()
	router := newTestRouter(repo, uuid.New())

	repo.On("SetBanned", mock.Anything, target, true).Return(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/admin/users/"+target.String()+"/ban", bytes.NewBufferString(`{"banned":true}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	repo.AssertExpectations(t)
}

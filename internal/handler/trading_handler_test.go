package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/papertrade-sim/internal/middleware"
	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingLimiter captures the keys the rate limiter is consulted with and
// rejects everything.
type recordingLimiter struct {
	keys []string
}

func (l *recordingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, time.Duration, error) {
	l.keys = append(l.keys, key)
	return false, time.Minute, nil
}

func stubAuth(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, userID)
		c.Next()
	}
}

func TestTradingRoutes_RateLimitKeyedByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := &recordingLimiter{}
	router := gin.New()
	v1 := router.Group("/api/v1")

	h := NewTradingHandler(nil)
	h.RegisterRoutes(v1, stubAuth(42), middleware.RateLimitMiddleware(limiter, 10, time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trading/1/balance", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Auth ran first, so the quota is charged to the user, not the NAT IP.
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "user:42", limiter.keys[0])
}

func TestPageParams_ClampsOutOfRangeValues(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		query        string
		wantPage     int
		wantPageSize int
	}{
		{"", 1, 20},
		{"page=3&page_size=50", 3, 50},
		{"page=0&page_size=0", 1, 20},
		{"page=-5&page_size=-1", 1, 20},
		{"page_size=5000", 1, 100},
		{"page=abc&page_size=abc", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)

		page, pageSize := pageParams(c)
		assert.Equal(t, tc.wantPage, page, "query %q", tc.query)
		assert.Equal(t, tc.wantPageSize, pageSize, "query %q", tc.query)
	}
}

func TestListNotifications_ZeroPageSizeDoesNotPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))

	require.NoError(t, db.Create(&models.Notification{
		UserID:  7,
		Type:    models.NotificationPositionClosed,
		Title:   "Position closed",
		Message: "stop loss",
	}).Error)

	svc := service.NewNotificationService(repository.NewNotificationRepository(db), nil)
	router := gin.New()
	v1 := router.Group("/api/v1")
	NewNotificationHandler(svc).RegisterRoutes(v1, stubAuth(7))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?page=0&page_size=0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"total\":1")
}

package threshold

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// RequestIDHeader carries the per-request id echoed by the key server.
	RequestIDHeader = "X-Request-ID"

	// PathFetchKey and PathService are the key server routes.
	PathFetchKey = "/v1/fetch_key"
	PathService  = "/v1/service"

	// errCodeExpired is the error code clients map back to ErrSessionExpired.
	errCodeExpired = "expired"

	loggerKey = "logger"
)

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// RateLimit is the sustained per-client request rate. Zero disables limiting.
	RateLimit rate.Limit
	Burst     int
	Logger    *zap.Logger
}

// ServiceInfo is returned by GET /v1/service.
type ServiceInfo struct {
	ObjectID  string `json:"object_id"`
	PublicKey string `json:"public_key"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHandler exposes ks over HTTP.
func NewHandler(ks *KeyServer, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(logger))
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		router.Use(rateLimit(newMultiLimiter(opts.RateLimit, burst, 10*time.Minute)))
	}

	router.GET(PathService, func(c *gin.Context) {
		c.JSON(http.StatusOK, ServiceInfo{
			ObjectID:  ks.ObjectID(),
			PublicKey: hex.EncodeToString(ks.PublicKey().Compressed()),
		})
	})
	router.POST(PathFetchKey, func(c *gin.Context) {
		var req FetchKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
			return
		}
		resp, err := ks.FetchKey(c.Request.Context(), &req)
		if err != nil {
			status, code := statusFor(err)
			log := requestLogger(c, logger)
			if status >= http.StatusInternalServerError {
				log.Error("fetch_key failed", zap.Error(err))
			} else {
				log.Debug("fetch_key rejected", zap.Int("status", status), zap.Error(err))
			}
			c.JSON(status, errorBody{Code: code, Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})
	return router
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized, errCodeExpired
	case errors.Is(err, ErrInvalidCertificate):
		return http.StatusUnauthorized, "invalid_certificate"
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, ErrMalformedObject), errors.Is(err, ErrUnknownServer):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func requestID(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(loggerKey, base.With(zap.String("request_id", id)))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestLogger(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return fallback
}

func rateLimit(lim *multiLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !lim.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Code: "rate_limited", Message: "too many requests"})
			return
		}
		c.Next()
	}
}

package fakeapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// TotalCountHeader carries the total match count of a list response.
	TotalCountHeader = "X-Total-Count"
	RequestIDHeader  = "X-Request-ID"
	requestIDKey     = "request_id"
)

// Server exposes a Directory over the admin REST routes.
type Server struct {
	*gin.Engine
	dir    *Directory
	logger *slog.Logger

	latency  time.Duration
	origins  []string
	cors     bool
	requests atomic.Int64

	mu       sync.Mutex
	failures []int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLatency delays every API response by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithCORS lets browsers on origins call the API and read the paging headers.
// No origins allows any.
func WithCORS(origins ...string) Option {
	return func(s *Server) {
		s.cors = true
		s.origins = origins
	}
}

// NewServer builds the router for dir.
func NewServer(dir *Directory, opts ...Option) *Server {
	s := &Server{
		Engine: gin.New(),
		dir:    dir,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Use(s.requestID(), s.requestLogger(), gin.Recovery())
	if s.cors {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = s.origins
		cfg.AllowAllOrigins = len(s.origins) == 0
		cfg.AddAllowHeaders(RequestIDHeader)
		cfg.AddExposeHeaders(TotalCountHeader, RequestIDHeader)
		s.Use(cors.New(cfg))
	}
	s.NoRoute(func(c *gin.Context) {
		abort(c, goerrors.New("route not found: "+c.Request.URL.Path, goerrors.CategoryRouting).
			WithCode(http.StatusNotFound).
			WithTextCode(goerrors.HTTPStatusToTextCode(http.StatusNotFound)))
	})
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.Group("/api", s.faults())
	{
		users := api.Group("/allUsers")
		users.GET("/search", s.searchUsers)
		users.POST("", s.createUser)
		users.PATCH("/:id", s.updateUser)
		users.DELETE("/:id", s.deleteUser)

		course := api.Group("/course/:courseId")
		course.GET("", s.getCourse)
		course.GET("/member", s.listMembers)
		course.POST("/member", s.enroll)
	}
}

// FailNext makes the next API requests fail with the given statuses, one per
// request, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	s.failures = append(s.failures, statuses...)
	s.mu.Unlock()
}

// Requests returns how many API requests reached the server.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Directory returns the served directory.
func (s *Server) Directory() *Directory { return s.dir }

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("fakeapi: request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) faults() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.requests.Add(1)
		if s.latency > 0 {
			select {
			case <-time.After(s.latency):
			case <-c.Request.Context().Done():
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
		}

		s.mu.Lock()
		status := 0
		if len(s.failures) > 0 {
			status = s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			abort(c, goerrors.New(http.StatusText(status), goerrors.HTTPStatusToCategory(status)).
				WithCode(status).
				WithTextCode(goerrors.HTTPStatusToTextCode(status)))
			return
		}
		c.Next()
	}
}

func (s *Server) searchUsers(c *gin.Context) {
	page, ok := pageParam(c)
	if !ok {
		return
	}
	users, total := s.dir.SearchUsers(c.Query("searchQuery"), c.Query("role"), page)
	s.writeList(c, users, total)
}

func (s *Server) listMembers(c *gin.Context) {
	page, ok := pageParam(c)
	if !ok {
		return
	}
	users, total, err := s.dir.CourseMembers(c.Param("courseId"), c.Query("memberType"), c.Query("searchQuery"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	s.writeList(c, users, total)
}

func (s *Server) getCourse(c *gin.Context) {
	course, err := s.dir.Course(c.Param("courseId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (s *Server) createUser(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, badInput(err))
		return
	}
	u, err := s.dir.CreateUser(fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) updateUser(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, badInput(err))
		return
	}
	u, err := s.dir.UpdateUser(c.Param("id"), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) deleteUser(c *gin.Context) {
	u, err := s.dir.DeleteUser(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// EnrollRequest is the body of POST /api/course/:courseId/member.
type EnrollRequest struct {
	MemberType string   `json:"memberType" binding:"required,oneof=student faculty"`
	UserIDs    []string `json:"userIds" binding:"required,min=1"`
}

func (s *Server) enroll(c *gin.Context) {
	var req EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badInput(err))
		return
	}
	course, err := s.dir.Enroll(c.Param("courseId"), req.MemberType, req.UserIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (s *Server) writeList(c *gin.Context, users []User, total int) {
	if s.dir.reportsTotals() {
		c.Header(TotalCountHeader, strconv.Itoa(total))
	}
	c.JSON(http.StatusOK, users)
}

func pageParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("page", "1")
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		writeError(c, badInput(fmt.Errorf("page must be a positive integer, got %q", raw)))
		return 0, false
	}
	return page, true
}

// directoryErrors maps directory sentinels onto API errors.
func directoryErrors(err error) *goerrors.Error {
	var (
		category goerrors.Category
		code     int
	)
	switch {
	case errors.Is(err, ErrNotFound):
		category, code = goerrors.CategoryNotFound, http.StatusNotFound
	case errors.Is(err, ErrConflict):
		category, code = goerrors.CategoryConflict, http.StatusConflict
	case errors.Is(err, ErrInvalid):
		category, code = goerrors.CategoryValidation, http.StatusBadRequest
	case errors.Is(err, ErrUnsupported):
		category, code = goerrors.CategoryBadInput, http.StatusBadRequest
	default:
		return nil
	}
	return goerrors.Wrap(err, category, err.Error()).
		WithCode(code).
		WithTextCode(goerrors.HTTPStatusToTextCode(code))
}

func badInput(err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()).
		WithCode(http.StatusBadRequest).
		WithTextCode(goerrors.HTTPStatusToTextCode(http.StatusBadRequest))
}

// writeError renders err as the standard error envelope.
func writeError(c *gin.Context, err error) {
	abort(c, goerrors.MapToError(err, []goerrors.ErrorMapper{directoryErrors}))
}

func abort(c *gin.Context, apiErr *goerrors.Error) {
	apiErr = apiErr.WithRequestID(c.GetString(requestIDKey))
	c.AbortWithStatusJSON(apiErr.Code, apiErr.ToErrorResponse(false, nil))
}

package backendstub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	mockTranscript  = "hello from test"
	noSpeechMessage = "[No speech detected]"

	// DefaultMaxUploadBytes bounds a single /transcribe upload
	DefaultMaxUploadBytes = 64 << 20
)

// Config configures the stub backend
type Config struct {
	Address         string
	JWTSecret       string
	TokenTTL        time.Duration
	MockAll         bool
	MaxUploadBytes  int64
	BcryptCost      int
	ShutdownTimeout time.Duration
}

// Server is a development double of the transcription backend
type Server struct {
	cfg    Config
	store  *Store
	tokens *TokenIssuer
	engine Engine
	logger *slog.Logger
	router *gin.Engine
}

// NewServer wires the stub routes. engine may be nil, in which case only
// mock uploads can be transcribed.
func NewServer(cfg Config, store *Store, engine Engine, logger *slog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		tokens: NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		engine: engine,
		logger: logger,
	}
	s.router = s.newRouter()

	return s
}

// Handler returns the HTTP handler serving the stub API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Graceful shutdown failed", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("Stub backend listening",
		slog.String("address", s.cfg.Address),
		slog.Bool("mock_all", s.cfg.MockAll),
		slog.Bool("engine", s.engine != nil),
	)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stub backend failed: %w", err)
	}
	return nil
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Speech-to-Text API is running"})
	})
	r.POST("/register", s.register)
	r.POST("/login", s.login)

	protected := r.Group("/", s.tokenRequired())
	{
		protected.POST("/transcribe", s.transcribe)
		protected.GET("/history", s.history)
		protected.GET("/download_docx/:id", s.downloadDocx)
		protected.GET("/download_txt/:id", s.downloadTxt)
	}

	return r
}

// requestLogger logs every request through slog
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// cors allows any origin, as a browser client served elsewhere calls the API
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

const userIDKey = "user_id"

// tokenRequired rejects requests without a valid bearer token
func (s *Server) tokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		parts := strings.Split(c.GetHeader("Authorization"), " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token missing"})
			return
		}

		userID, err := s.tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) register(c *gin.Context) {
	var payload credentialsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if payload.Username == "" || payload.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), s.cfg.BcryptCost)
	if err != nil {
		s.internalError(c, "register", err)
		return
	}

	if _, err := s.store.CreateUser(c.Request.Context(), payload.Username, string(hash)); err != nil {
		if errors.Is(err, ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}
		s.internalError(c, "register", err)
		return
	}

	s.logger.Info("User registered", slog.String("username", payload.Username))
	c.JSON(http.StatusOK, gin.H{"message": "User registered successfully"})
}

func (s *Server) login(c *gin.Context) {
	var payload credentialsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}

	user, err := s.store.UserByName(c.Request.Context(), payload.Username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.internalError(c, "login", err)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(payload.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.internalError(c, "login", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "username": user.Username})
}

func (s *Server) transcribe(c *gin.Context) {
	userID := c.GetInt64(userIDKey)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	f, err := header.Open()
	if err != nil {
		s.internalError(c, "transcribe", err)
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		s.internalError(c, "transcribe", err)
		return
	}

	filename := header.Filename
	var result Result

	if s.cfg.MockAll || isMockUpload(filename) {
		s.logger.Info("Skipping decode for mock upload", slog.String("filename", filename))
		result = Result{Text: mockTranscript}
	} else {
		if s.engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNoEngine.Error()})
			return
		}
		result, err = s.engine.Transcribe(c.Request.Context(), filename, data)
		if err != nil {
			s.internalError(c, "transcribe", err)
			return
		}
		result.Text = strings.TrimSpace(result.Text)
		if result.Text == "" {
			result.Text = noSpeechMessage
		}
	}

	_, err = s.store.AddTranscript(c.Request.Context(), Transcript{
		UserID:          userID,
		Title:           filename,
		Text:            result.Text,
		AudioFilename:   filename,
		DurationSeconds: result.DurationSeconds,
	})
	if err != nil {
		s.internalError(c, "transcribe", err)
		return
	}

	s.logger.Info("Transcribed upload",
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
		slog.Int64("user_id", userID),
	)

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"filename":         filename,
		"duration_seconds": result.DurationSeconds,
		"transcript":       result.Text,
	})
}

func isMockUpload(filename string) bool {
	return strings.HasPrefix(filename, "test.") || strings.HasPrefix(filename, "mock")
}

type historyItem struct {
	ID              int64   `json:"id"`
	Title           string  `json:"title"`
	Transcript      string  `json:"transcript"`
	AudioFilename   string  `json:"audio_filename"`
	DurationSeconds float64 `json:"duration_seconds"`
	CreatedAt       string  `json:"created_at"`
}

func (s *Server) history(c *gin.Context) {
	transcripts, err := s.store.ListTranscripts(c.Request.Context(), c.GetInt64(userIDKey))
	if err != nil {
		s.internalError(c, "history", err)
		return
	}

	items := make([]historyItem, 0, len(transcripts))
	for _, t := range transcripts {
		items = append(items, historyItem{
			ID:              t.ID,
			Title:           t.Title,
			Transcript:      t.Text,
			AudioFilename:   t.AudioFilename,
			DurationSeconds: t.DurationSeconds,
			CreatedAt:       t.CreatedAt.UTC().Format(http.TimeFormat),
		})
	}

	c.JSON(http.StatusOK, items)
}

// downloadDocx resolves the transcript but does not render documents
func (s *Server) downloadDocx(c *gin.Context) {
	userID := c.GetInt64(userIDKey)

	var err error
	if id := c.Param("id"); id == "latest" {
		_, err = s.store.LatestTranscript(c.Request.Context(), userID)
	} else if n, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		_, err = s.store.GetTranscript(c.Request.Context(), userID, n)
	} else {
		err = ErrNotFound
	}

	if err != nil {
		s.lookupError(c, "download_docx", err)
		return
	}

	c.JSON(http.StatusNotImplemented, gin.H{"error": "docx export is not available on this server"})
}

func (s *Server) downloadTxt(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}

	t, err := s.store.GetTranscript(c.Request.Context(), c.GetInt64(userIDKey), id)
	if err != nil {
		s.lookupError(c, "download_txt", err)
		return
	}

	name := t.Title
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("transcript_%d", t.ID)
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".txt"))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(t.Text))
}

func (s *Server) lookupError(c *gin.Context, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transcript not found"})
		return
	}
	s.internalError(c, op, err)
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("Request failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

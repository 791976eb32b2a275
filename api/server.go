package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"Retoucher/core"
	"Retoucher/lib/sl"
	"Retoucher/media"
)

const userHeader = "X-User-Id"

type replyResponse struct {
	Intent  core.Intent   `json:"intent"`
	Status  core.Status   `json:"status"`
	Text    string        `json:"text"`
	Image   core.ImageRef `json:"image,omitempty"`
	Charged bool          `json:"charged"`
	Issues  []string      `json:"issues,omitempty"`
}

type creditsResponse struct {
	Credits int `json:"credits"`
}

// Server exposes the assistant over HTTP.
type Server struct {
	echo       *echo.Echo
	assistant  core.Assistant
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(listen string, assistant core.Assistant, log *slog.Logger) *Server {
	s := &Server{
		echo:      echo.New(),
		assistant: assistant,
		log:       log.With(sl.Module("http")),
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              listen,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api/v1")
	g.POST("/conversations/:id/messages", s.postMessage)
	g.POST("/conversations/:id/fix", s.postFix)
	g.DELETE("/conversations/:id", s.deleteConversation)
	g.GET("/credits", s.getCredits)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("listening", slog.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) postMessage(c *echo.Context) error {
	in, err := s.input(c)
	if err != nil {
		return err
	}
	in.Text = c.FormValue("text")

	if header, err := c.FormFile("image"); err == nil {
		if header.Size > media.MaxUploadSize {
			return echo.NewHTTPError(http.StatusBadRequest, "image exceeds 15 MB")
		}
		file, err := header.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable image")
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, media.MaxUploadSize+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable image")
		}
		in.Image = &core.Attachment{Data: data}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	reply, err := s.assistant.HandleMessage(c.Request().Context(), in)
	return s.reply(c, reply, err)
}

func (s *Server) postFix(c *echo.Context) error {
	in, err := s.input(c)
	if err != nil {
		return err
	}
	reply, err := s.assistant.FixIssues(c.Request().Context(), in)
	return s.reply(c, reply, err)
}

func (s *Server) deleteConversation(c *echo.Context) error {
	in, err := s.input(c)
	if err != nil {
		return err
	}
	if err := s.assistant.ClearConversation(c.Request().Context(), in.ConversationId); err != nil {
		return s.failure(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getCredits(c *echo.Context) error {
	userId := c.Request().Header.Get(userHeader)
	if userId == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	balance, err := s.assistant.Balance(c.Request().Context(), userId)
	if err != nil {
		return s.failure(err)
	}
	return c.JSON(http.StatusOK, creditsResponse{Credits: balance})
}

// input reads the caller identity and scopes the conversation to it.
func (s *Server) input(c *echo.Context) (core.Input, error) {
	userId := c.Request().Header.Get(userHeader)
	if userId == "" {
		return core.Input{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	id := c.Param("id")
	if id == "" {
		return core.Input{}, echo.NewHTTPError(http.StatusBadRequest, "conversation id required")
	}
	return core.Input{
		ConversationId: fmt.Sprintf("http:%s:%s", userId, id),
		UserId:         userId,
		ClientIp:       c.RealIP(),
	}, nil
}

func (s *Server) reply(c *echo.Context, reply *core.Reply, err error) error {
	if err != nil {
		return s.failure(err)
	}
	code := http.StatusOK
	if reply.Status == core.StatusInsufficientCredit {
		code = http.StatusPaymentRequired
	}
	return c.JSON(code, replyResponse{
		Intent:  reply.Intent,
		Status:  reply.Status,
		Text:    reply.Text,
		Image:   reply.Image,
		Charged: reply.Charged,
		Issues:  reply.Issues,
	})
}

func (s *Server) failure(err error) error {
	switch {
	case errors.Is(err, core.ErrAuth):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, core.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrCollaborator):
		s.log.Error("collaborator failure", sl.Err(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream service unavailable")
	default:
		s.log.Error("request failed", sl.Err(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

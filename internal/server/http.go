package server

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/pcm"
)

// NewHTTP builds the fiber app exposing the service under /api.
func NewHTTP(svc *Service, logger *slog.Logger, bodyLimitMB int) *fiber.App {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             bodyLimitBytes(bodyLimitMB),
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(api.Response{Error: err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	h := &httpHandler{svc: svc}
	r := app.Group("/api")
	r.Get("/health", h.health)
	r.Post("/transcribe", h.transcribe)
	return app
}

type httpHandler struct {
	svc *Service
}

func (h *httpHandler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *httpHandler) transcribe(c *fiber.Ctx) error {
	file, err := c.FormFile(api.FieldAudio)
	if err != nil {
		return badRequest(c, "audio file is required")
	}
	f, err := file.Open()
	if err != nil {
		return badRequest(c, "audio file is unreadable")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return badRequest(c, "audio file is unreadable")
	}

	audio, rate, channels, err := pcm.DecodeWAV(data)
	if err != nil {
		return badRequest(c, "invalid audio: "+err.Error())
	}

	req := Request{
		SessionID:    strings.TrimSpace(c.FormValue(api.FieldSessionID)),
		Audio:        audio,
		SampleRate:   rate,
		Channels:     channels,
		LanguageHint: strings.TrimSpace(c.FormValue(api.FieldLanguage)),
	}
	if raw := strings.TrimSpace(c.FormValue(api.FieldDuration)); raw != "" {
		d, perr := strconv.ParseFloat(raw, 64)
		if perr != nil || d < 0 {
			return badRequest(c, "invalid duration "+strconv.Quote(raw))
		}
		req.DurationSeconds = d
	}

	resp, err := h.svc.Transcribe(c.UserContext(), req)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(api.Response{Error: msg})
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		logger.Debug("http request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", time.Since(started).Milliseconds(),
		)
		return err
	}
}

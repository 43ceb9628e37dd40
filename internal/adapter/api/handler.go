package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"visible-relay/internal/domain/entity"
	"visible-relay/internal/logger"
	"visible-relay/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-multierror"
)

const (
	requestIDLocal = "requestid"
	clientIDHeader = "X-Client-ID"
)

type AnalyzeHandler struct {
	orchestrator *usecase.Orchestrator
	defaultMode  entity.Mode
}

func NewAnalyzeHandler(orch *usecase.Orchestrator, defaultMode entity.Mode) *AnalyzeHandler {
	return &AnalyzeHandler{orchestrator: orch, defaultMode: defaultMode}
}

func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req entity.AnalysisRequest
	if err := parseBody(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Detail: bodyErrorDetail(err)})
	}

	analysis, err := h.validate(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Detail: err.Error()})
	}
	analysis.ClientID = clientID(c)

	resp, err := h.orchestrator.Execute(requestContext(c), analysis)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *AnalyzeHandler) validate(req entity.AnalysisRequest) (entity.Analysis, error) {
	var errs *multierror.Error

	if req.ImageBase64 == nil {
		errs = multierror.Append(errs, errors.New("image_base64 is required"))
	} else if strings.TrimSpace(*req.ImageBase64) == "" {
		errs = multierror.Append(errs, errors.New("image_base64 must not be empty"))
	}
	if req.Question == nil {
		errs = multierror.Append(errs, errors.New("question is required"))
	}
	mode, err := entity.ParseMode(req.Mode, h.defaultMode)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("mode: %w, expected one of %s", err, modeList()))
	}

	if errs.ErrorOrNil() != nil {
		errs.ErrorFormat = joinErrors
		return entity.Analysis{}, fmt.Errorf("%w: %s", entity.ErrValidation, errs.Error())
	}
	return entity.Analysis{
		ImageBase64: *req.ImageBase64,
		Question:    *req.Question,
		Mode:        mode,
		MIMEType:    req.MIMEType,
	}, nil
}

// parseBody accepts JSON with or without a Content-Type header.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Request().Header.ContentType()) == 0 {
		return c.App().Config().JSONDecoder(c.Body(), out)
	}
	return c.BodyParser(out)
}

func bodyErrorDetail(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s: %s must be a %s", entity.ErrValidation, typeErr.Field, typeErr.Type)
	}
	return fmt.Sprintf("%s: body must be a JSON object with string fields image_base64 and question", entity.ErrValidation)
}

func joinErrors(es []error) string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func modeList() string {
	modes := entity.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id, ok := c.Locals(requestIDLocal).(string); ok {
		ctx = logger.ContextWithRequestID(ctx, id)
	}
	return ctx
}

// clientID keys the token budget: an explicit client header, else the peer address.
func clientID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(clientIDHeader)); id != "" {
		return id
	}
	return c.IP()
}

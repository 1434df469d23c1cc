package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"expense-bot/internal/integrations/telegram"
)

const (
	secretHeader      = "X-Telegram-Bot-Api-Secret-Token"
	correlationHeader = "X-Correlation-Id"
)

// UpdateHandler handles a single Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

type Handler struct {
	updates UpdateHandler
	secret  string
	logger  *slog.Logger
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(updates UpdateHandler, secret string) (*Handler, error) {
	if updates == nil {
		return nil, errors.New("handler: update handler must not be nil")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("handler: webhook secret must not be empty")
	}
	return &Handler{updates: updates, secret: secret, logger: slog.Default()}, nil
}

// Handle receives a Telegram webhook delivery through API Gateway. Once the
// update is authenticated and decoded the response is always 200: Telegram
// redelivers on any other status, which would replay the conversation event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if subtle.ConstantTimeCompare([]byte(header(req.Headers, secretHeader)), []byte(h.secret)) != 1 {
		logger.Warn("webhook.unauthorised")
		return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{Error: "UNAUTHORISED"}), nil
	}

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			logger.Warn("webhook.invalid_body", "err", err)
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "INVALID_INPUT"}), nil
		}
		body = string(decoded)
	}

	var update telegram.Update
	if err := json.Unmarshal([]byte(body), &update); err != nil {
		logger.Warn("webhook.invalid_body", "err", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "INVALID_INPUT"}), nil
	}

	if err := h.updates.HandleUpdate(ctx, update); err != nil {
		logger.Error("webhook.update_failed", "update_id", update.UpdateID, "err", err)
	} else {
		logger.Info("webhook.update_handled", "update_id", update.UpdateID)
	}
	return jsonResponse(http.StatusOK, correlationID, okResponse{OK: true}), nil
}

// header looks a header up case-insensitively; API Gateway passes them
// through as sent.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}

package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"expense-bot/internal/integrations/telegram"
)

type stubUpdates struct {
	got []telegram.Update
	err error
}

func (s *stubUpdates) HandleUpdate(_ context.Context, u telegram.Update) error {
	s.got = append(s.got, u)
	return s.err
}

const updateBody = `{"update_id":42,"message":{"message_id":1,"from":{"id":11},"chat":{"id":500},"text":"coffee 3 usd"}}`

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/telegram",
		Headers: map[string]string{
			"Content-Type":                    "application/json",
			"X-Telegram-Bot-Api-Secret-Token": "s3cret",
		},
		Body: body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, "s3cret")
	require.Error(t, err)
	_, err = NewHandler(&stubUpdates{}, " ")
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	updates := &stubUpdates{}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(updateBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, parseBody[okResponse](t, resp.Body).OK)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

	require.Len(t, updates.got, 1)
	require.Equal(t, int64(42), updates.got[0].UpdateID)
	require.Equal(t, "coffee 3 usd", updates.got[0].Message.Text)
}

func TestHandle_RejectsWrongSecret(t *testing.T) {
	updates := &stubUpdates{}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	event := makeEvent(updateBody)
	event.Headers["X-Telegram-Bot-Api-Secret-Token"] = "guess"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, updates.got)

	delete(event.Headers, "X-Telegram-Bot-Api-Secret-Token")
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandle_SecretHeaderCaseInsensitive(t *testing.T) {
	updates := &stubUpdates{}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	event := makeEvent(updateBody)
	delete(event.Headers, "X-Telegram-Bot-Api-Secret-Token")
	event.Headers["x-telegram-bot-api-secret-token"] = "s3cret"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, updates.got, 1)
}

func TestHandle_InvalidBody(t *testing.T) {
	updates := &stubUpdates{}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_INPUT", parseBody[errorResponse](t, resp.Body).Error)
	require.Empty(t, updates.got)
}

func TestHandle_Base64Body(t *testing.T) {
	updates := &stubUpdates{}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(updateBody)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, updates.got, 1)
}

func TestHandle_DispatchFailureStillAcknowledged(t *testing.T) {
	updates := &stubUpdates{err: errors.New("telegram: sendMessage failed")}
	h, err := NewHandler(updates, "s3cret")
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(updateBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubUpdates{}, "s3cret")
	require.NoError(t, err)

	event := makeEvent(updateBody)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

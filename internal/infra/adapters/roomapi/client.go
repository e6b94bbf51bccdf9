// Package roomapi - HTTP клиент сервера комнат.
package roomapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	req "github.com/imroc/req/v3"

	"github.com/qrave1/RoomMesh/internal/domain/models"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/dto"
)

const requestTimeout = 10 * time.Second

// StatusError - ответ сервера вне 2xx
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("room api: status %d", e.StatusCode)
	}

	return fmt.Sprintf("room api: status %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

type Client struct {
	c *req.Client
}

func New(baseURL string) *Client {
	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetUserAgent("roommesh").
		SetCommonErrorResult(&errorBody{})

	return &Client{c: c}
}

// SetToken задает bearer токен для всех следующих запросов.
func (c *Client) SetToken(token string) {
	c.c.SetCommonBearerAuthToken(token)
}

// UseToken берет client_id из subject токена и использует токен дальше.
// Подпись не проверяется: ее проверяет сервер.
func (c *Client) UseToken(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	clientID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token subject: %w", err)
	}

	c.SetToken(token)

	return clientID, nil
}

// Guest получает новый client_id и токен, и сразу использует токен.
func (c *Client) Guest(ctx context.Context) (dto.GuestResponse, error) {
	var out dto.GuestResponse

	resp, err := c.c.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		Post("/api/auth/guest")
	if err := checkResponse(resp, err); err != nil {
		return dto.GuestResponse{}, fmt.Errorf("request guest token: %w", err)
	}

	c.SetToken(out.Token)

	return out, nil
}

func (c *Client) CreateRoom(ctx context.Context, name, passcode string) (dto.RoomResponse, error) {
	var out dto.RoomResponse

	resp, err := c.c.R().
		SetContext(ctx).
		SetBody(dto.CreateRoomRequest{Name: name, Passcode: passcode}).
		SetSuccessResult(&out).
		Post("/api/v1/rooms")
	if err := checkResponse(resp, err); err != nil {
		return dto.RoomResponse{}, fmt.Errorf("create room: %w", err)
	}

	return out, nil
}

func (c *Client) Snapshot(ctx context.Context, roomID uuid.UUID) (models.Snapshot, error) {
	var out models.Snapshot

	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("id", roomID.String()).
		SetSuccessResult(&out).
		Get("/api/v1/rooms/{id}/snapshot")
	if err := checkResponse(resp, err); err != nil {
		return models.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	return out, nil
}

// Deltas запрашивает дельты с fromSeq по toSeq включительно.
func (c *Client) Deltas(ctx context.Context, roomID uuid.UUID, fromSeq, toSeq int64) ([]models.Delta, error) {
	var out []models.Delta

	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("id", roomID.String()).
		SetQueryParam("fromSeq", strconv.FormatInt(fromSeq, 10)).
		SetQueryParam("toSeq", strconv.FormatInt(toSeq, 10)).
		SetSuccessResult(&out).
		Get("/api/v1/rooms/{id}/deltas")
	if err := checkResponse(resp, err); err != nil {
		return nil, fmt.Errorf("get deltas [%d, %d]: %w", fromSeq, toSeq, err)
	}

	return out, nil
}

// checkResponse превращает ответ вне 2xx в *StatusError; 404 оборачивает ErrRoomNotFound.
func checkResponse(resp *req.Response, err error) error {
	if err != nil {
		return err
	}

	if !resp.IsErrorState() {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode}
	if body, ok := resp.ErrorResult().(*errorBody); ok && body != nil {
		statusErr.Message = body.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.Join(models.ErrRoomNotFound, statusErr)
	}

	return statusErr
}

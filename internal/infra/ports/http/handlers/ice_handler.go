package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/config"
)

const iceCredentialTTL = time.Hour

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers выдает временные TURN креды по схеме coturn use-auth-secret.
// Без настроенного coturn отдает пустой список.
func (h *IceHandler) IceServers(c echo.Context) error {
	if !h.cfg.CoturnServer.Enabled() {
		return c.JSON(http.StatusOK, []webrtc.ICEServer{})
	}

	expiration := time.Now().Add(iceCredentialTTL).Unix()
	username := fmt.Sprintf("%d", expiration)

	// HMAC-SHA1 от username с static-auth-secret
	mac := hmac.New(sha1.New, []byte(h.cfg.CoturnServer.Secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	servers := []webrtc.ICEServer{
		{
			URLs: []string{
				h.cfg.TurnUDPServer.URLs[0],
				h.cfg.TurnTCPServer.URLs[0],
			},
			Username:   username,
			Credential: password,
		},
	}

	return c.JSON(http.StatusOK, servers)
}

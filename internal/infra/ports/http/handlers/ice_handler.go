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

	"github.com/careline/rtc/internal/application/config"
)

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers hands out TURN access with short-term credentials derived
// from the coturn static-auth-secret. Without a coturn host only the
// STUN URLs go out.
func (h *IceHandler) IceServers(c echo.Context) error {
	if h.cfg.Coturn.Host == "" {
		return c.JSON(http.StatusOK, webrtc.ICEServer{URLs: h.cfg.StunURLs})
	}

	expiration := time.Now().Add(time.Hour).Unix()
	username := fmt.Sprintf("%d", expiration)

	mac := hmac.New(sha1.New, []byte(h.cfg.Coturn.Secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	response := webrtc.ICEServer{
		URLs: []string{
			h.cfg.TurnUDPServer.URLs[0],
			h.cfg.TurnTCPServer.URLs[0],
		},
		Username:   username,
		Credential: password,
	}

	return c.JSON(http.StatusOK, response)
}

package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/voiceframe/voiceframe-backend/internal/events"
	"github.com/voiceframe/voiceframe-backend/internal/payment"
)

// Package-level collaborators. Wired from main at startup; tests swap them.
var (
	gatewayMu     sync.Mutex
	gatewayClient *payment.Client

	busMu sync.RWMutex
	bus   events.Bus = events.NewLocalBus()
)

// Gateway returns the payment gateway client, building one from env on first
// use. VF_PAYMENT_SECRET_KEY is the secret key; VF_PAYMENT_API_URL overrides
// the host (test servers).
func Gateway() *payment.Client {
	gatewayMu.Lock()
	defer gatewayMu.Unlock()
	if gatewayClient == nil {
		opts := []payment.Option{}
		if u := os.Getenv("VF_PAYMENT_API_URL"); u != "" {
			opts = append(opts, payment.WithBaseURL(u))
		}
		gatewayClient = payment.NewClient(os.Getenv("VF_PAYMENT_SECRET_KEY"), opts...)
	}
	return gatewayClient
}

// SetGateway replaces the gateway client (tests, custom wiring).
func SetGateway(c *payment.Client) {
	gatewayMu.Lock()
	gatewayClient = c
	gatewayMu.Unlock()
}

// EventBus returns the active order-event bus.
func EventBus() events.Bus {
	busMu.RLock()
	defer busMu.RUnlock()
	return bus
}

// SetEventBus replaces the bus (main swaps in NATS when VF_NATS_URL is set).
func SetEventBus(b events.Bus) {
	busMu.Lock()
	bus = b
	busMu.Unlock()
}

// storageDir is the root for uploaded assets and rendered artifacts.
func storageDir() string {
	if d := os.Getenv("VF_STORAGE_DIR"); d != "" {
		return d
	}
	return "./data"
}

func assetsDir() string    { return filepath.Join(storageDir(), "assets") }
func artifactsDir() string { return filepath.Join(storageDir(), "artifacts") }

// publicBaseURL is the externally reachable base for signed links (QR codes,
// email download buttons).
func publicBaseURL() string {
	if u := os.Getenv("VF_PUBLIC_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// urlSigningSecret signs expiring download/listen links. Resolution mirrors
// the JWT secret: VF_URL_SIGNING_SECRET, else a dev default unless
// VF_STRICT_URL_SIGNING is set, in which case no link can be minted or
// verified without a configured secret.
func urlSigningSecret() (string, error) {
	if s := strings.TrimSpace(os.Getenv("VF_URL_SIGNING_SECRET")); s != "" {
		return s, nil
	}
	strict := strings.EqualFold(strings.TrimSpace(os.Getenv("VF_STRICT_URL_SIGNING")), "1") ||
		strings.EqualFold(strings.TrimSpace(os.Getenv("VF_STRICT_URL_SIGNING")), "true")
	if strict {
		return "", fmt.Errorf("VF_URL_SIGNING_SECRET environment variable not set")
	}
	return "dev_url_signing_secret", nil
}

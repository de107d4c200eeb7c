//go:build !nats

package events

import "fmt"

// NewNatsBus default stub for builds without the 'nats' tag.
func NewNatsBus(url string) (Bus, error) {
	return nil, fmt.Errorf("nats backend not available: build without -tags nats")
}

package probe

import (
	"context"
	"errors"
	"fmt"

	"slowburn/pkg/capture"
)

// Availability is implemented by backends that may have degraded at open.
type Availability interface {
	Available(ctx context.Context) bool
}

// Store fails when the persistent store could not be opened. The app still
// runs; audio is then only cached for the session.
func Store(s Availability) Probe {
	return Probe{
		Name: "Persistent Store",
		Check: func(ctx context.Context) error {
			if !s.Available(ctx) {
				return errors.New("database unavailable, caching in memory only")
			}
			return nil
		},
	}
}

// Key fails when a provider has no credentials configured.
func Key(name, key string, critical bool) Probe {
	return Probe{
		Name:     name,
		Critical: critical,
		Check: func(context.Context) error {
			if key == "" {
				return fmt.Errorf("no API key configured")
			}
			return nil
		},
	}
}

// Microphone opens and immediately closes the input device.
func Microphone(mic capture.Microphone) Probe {
	return Probe{
		Name: "Microphone",
		Check: func(ctx context.Context) error {
			s, err := mic.Open(ctx)
			if err != nil {
				return err
			}
			return s.Close()
		},
	}
}

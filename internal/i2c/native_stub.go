//go:build !linux

package i2c

import "fmt"

// OpenNative is only available on Linux; use the periph backend elsewhere.
func OpenNative(path string) (Bus, error) {
	return nil, fmt.Errorf("i2c: native driver needs linux")
}

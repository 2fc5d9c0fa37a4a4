//go:build !linux

package auth

import "log"

// showPairingNotification logs instead of notifying on platforms
// without a supported notification mechanism.
func showPairingNotification(clientName string) error {
	log.Printf("[AUTH] Client %q paired (no desktop notification on this platform)", clientName)
	return nil
}

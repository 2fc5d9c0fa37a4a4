//go:build linux

package auth

import (
	"fmt"
	"log"
	"os/exec"
)

// showPairingNotification tells the desktop user a new client paired.
// notify-send covers every mainstream Linux desktop.
func showPairingNotification(clientName string) error {
	cmd := exec.Command("notify-send",
		"Tonearm pairing",
		fmt.Sprintf("Client %q paired with your tonearm daemon", clientName),
		"--urgency=normal",
		"--icon=audio-x-generic",
	)
	if err := cmd.Run(); err != nil {
		return err
	}

	log.Printf("[AUTH] Showed pairing notification for client %q", clientName)
	return nil
}

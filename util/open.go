// Package util has small helpers shared by the command-line front ends.
package util

import (
	"os/exec"
	"runtime"
)

// OpenURL opens the URL in the platform's default browser. The command is
// started, not waited for.
func OpenURL(url string) error {
	var cmd string
	var args []string
	switch runtime.GOOS {
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		cmd = "open"
		args = []string{url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}
	return exec.Command(cmd, args...).Start()
}

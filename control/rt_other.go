//go:build !linux

package control

import "github.com/sirupsen/logrus"

// setupRT is a no-op outside Linux; the cycle thread runs at normal
// priority.
func setupRT(cpu, priority int, log *logrus.Entry) {
	if cpu >= 0 || priority > 0 {
		log.Warn("real-time thread setup is only supported on linux")
	}
}

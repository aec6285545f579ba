// Package ecat defines the narrow facade the controller uses to talk to an
// EtherCAT master, together with the fixed process-data layout of the two
// pedestal servo amplifiers. The master implementation itself (slave
// discovery, frame scheduling, distributed clocks) lives behind the Master
// interface; the simulator subpackage provides the implementation used in
// tests and in the CLI's simulator mode.
package ecat

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned by Receive when no process data arrived for the
// current cycle. It is transient: the caller accounts a missed cycle and
// retries on the next tick. Any other error is a hard bus failure.
var ErrNotReady = errors.New("ecat: process data not ready")

// ErrTimeout is returned by SDO transfers that exceed their deadline.
var ErrTimeout = errors.New("ecat: sdo timeout")

// SlaveError wraps a failure scoped to one slave position on the bus.
type SlaveError struct {
	Slave int
	Op    string
	Err   error
}

func (e *SlaveError) Error() string {
	return fmt.Sprintf("slave %d: %s: %v", e.Slave, e.Op, e.Err)
}

func (e *SlaveError) Unwrap() error { return e.Err }

// Master is the adapter over an EtherCAT master. The cycle engine calls
// Receive and Send exactly once per cycle, in that order, and touches the
// per-slave images in between. SDO transfers are blocking and are only used
// during init and fault recovery, never from the cycle path.
type Master interface {
	// Open claims the bus resources. No frames are exchanged yet.
	Open() error
	// ConfigurePDOs applies the fixed process-data mapping described in
	// image.go to every expected slave.
	ConfigurePDOs() error
	// Activate transitions all expected slaves to OP and starts cyclic
	// operation.
	Activate() error
	// Receive latches the input process images for this cycle.
	// Returns ErrNotReady when the cyclic frame has not come back yet.
	Receive() error
	// Inputs returns the latched input image for the given slave. The
	// slice is valid until the next Receive and must not be written.
	Inputs(slave int) []byte
	// Outputs returns the output image for the given slave. The cycle
	// engine fills it before Send.
	Outputs(slave int) []byte
	// Send queues the output process images for transmission.
	Send() error
	// SDORead performs a blocking upload of an object dictionary entry.
	SDORead(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, error)
	// SDOWrite performs a blocking download of an object dictionary entry.
	SDOWrite(slave int, index uint16, subindex uint8, value []byte, timeout time.Duration) error
	// DCSkew returns the current upper-bound estimate of the offset
	// between the host clock and the drives' distributed clocks.
	DCSkew() time.Duration
	// Close stops cyclic operation and releases the bus.
	Close() error
}

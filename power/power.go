// Package power controls the amplifier power-supply unit of the pedestal
// over Modbus. The supply feeds the two servo amplifiers; the drives only
// reach the EtherCAT bus once their supply channel is up, so the CLI brings
// this up before initializing the controller.
package power

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/pedestal_interface/internal/modbus"
)

// Status is one sample of the supply unit's state.
type Status struct {
	// SpinupDelay is the configured delay in seconds between switching
	// a channel on and the amplifier accepting load.
	SpinupDelay int

	CommandAzEnabled bool
	CommandElEnabled bool

	SupplyFault bool
	SupplyReady bool
	AzActive    bool
	ElActive    bool
}

type StatusCallback func(status Status)

// Config selects the transport: a local serial port or a remote bridge URL.
type Config struct {
	Port string
	Baud int
	URL  string

	Logger *logrus.Logger
}

type bus interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadCoils(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	WriteCoil(coil int, value bool) error
}

// Supply is the power-supply controller client. It polls the unit's
// registers continuously and reports each sample through the callback.
type Supply struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         bus
	channels       int
	delay          int
	coils          []bool
	inputs         []bool
}

// Channel coils: one supply channel per axis, azimuth first.
const (
	coilAzimuth   = 0
	coilElevation = 1
)

func Connect(ctx context.Context, cfg Config, statusCallback StatusCallback) (*Supply, error) {
	client := &modbus.Client{
		Port:     cfg.Port,
		BaudRate: cfg.Baud,
		URL:      cfg.URL,
		SlaveId:  1,
		Logger:   cfg.Logger,
	}
	s := &Supply{
		client:         client,
		statusCallback: statusCallback,
	}
	client.Poll = s.pollOnce
	return s, client.Connect(ctx)
}

func (s *Supply) pollOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := s.client.ReadInputRegisters(0, 1)
	if err != nil {
		return err
	}
	channels := binary.BigEndian.Uint16(results)

	results, err = s.client.ReadHoldingRegisters(0, 1)
	if err != nil {
		return err
	}
	s.delay = int(binary.BigEndian.Uint16(results))

	coils, err := s.client.ReadCoils(0, channels)
	if err != nil {
		return err
	}
	inputs, err := s.client.ReadDiscreteInputs(0, channels+2)
	if err != nil {
		return err
	}
	s.channels = int(channels)
	s.coils = modbus.BytesToBits(coils)
	s.inputs = modbus.BytesToBits(inputs)
	s.notifyStatus()
	return nil
}

func (s *Supply) notifyStatus() {
	status := s.parseRegisters()
	s.statusCallback(status)
}

func (s *Supply) parseRegisters() Status {
	return Status{
		SpinupDelay: s.delay,

		CommandAzEnabled: s.coils[coilAzimuth],
		CommandElEnabled: s.coils[coilElevation],

		SupplyFault: s.inputs[0],
		SupplyReady: s.inputs[1],
		AzActive:    s.inputs[2+coilAzimuth],
		ElActive:    s.inputs[2+coilElevation],
	}
}

// SetAzimuthEnabled switches the azimuth amplifier supply channel.
func (s *Supply) SetAzimuthEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.WriteCoil(coilAzimuth, enabled)
}

// SetElevationEnabled switches the elevation amplifier supply channel.
func (s *Supply) SetElevationEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.WriteCoil(coilElevation, enabled)
}

// SetAllEnabled switches both supply channels together.
func (s *Supply) SetAllEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.WriteCoil(coilAzimuth, enabled); err != nil {
		return err
	}
	return s.client.WriteCoil(coilElevation, enabled)
}

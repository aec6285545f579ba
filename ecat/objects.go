package ecat

// CiA-402 object dictionary entries used by the controller.
const (
	ObjDeviceName      uint16 = 0x1008
	ObjHardwareVersion uint16 = 0x1009
	ObjSoftwareVersion uint16 = 0x100A

	ObjErrorCode       uint16 = 0x603F
	ObjControlword     uint16 = 0x6040
	ObjStatusword      uint16 = 0x6041
	ObjModeOfOperation uint16 = 0x6060
	ObjModeDisplay     uint16 = 0x6061
	ObjPositionActual  uint16 = 0x6064
	ObjVelocityActual  uint16 = 0x606C
	ObjTorqueActual    uint16 = 0x6077
	ObjTargetPosition  uint16 = 0x607A
	ObjProfileVelocity uint16 = 0x6081
	ObjProfileAccel    uint16 = 0x6083
	ObjProfileDecel    uint16 = 0x6084
	ObjTargetVelocity  uint16 = 0x60FF
)

// Vendor-specific objects of the L7N amplifier family.
const (
	ObjEncoderResolution uint16 = 0x2002
	ObjAmpTemperature    uint16 = 0x2610
)

// Slave positions on the bus. The azimuth drive is always first.
const (
	SlaveAzimuth   = 0
	SlaveElevation = 1
	SlaveCount     = 2
)

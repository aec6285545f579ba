package ecat

import "encoding/binary"

// Fixed PDO mapping per drive. All values little-endian, as on the wire.
//
// RxPDO (host -> drive):
//	0	controlword	u16
//	2	mode of operation	i8
//	3	target position	i32
//	7	target velocity	i32
//
// TxPDO (drive -> host):
//	0	statusword	u16
//	2	mode display	i8
//	3	position actual	i32
//	7	velocity actual	i32
//	11	torque actual	i16
//	13	error code	u16
//	15	amplifier temperatures	3 x i16
const (
	OutputImageLen = 11
	InputImageLen  = 21

	TemperatureChannels = 3
)

// DriveOutputs is the decoded RxPDO image for one drive.
type DriveOutputs struct {
	Controlword    uint16
	Mode           int8
	TargetPosition int32
	TargetVelocity int32
}

// DriveInputs is the decoded TxPDO image for one drive.
type DriveInputs struct {
	Statusword   uint16
	Mode         int8
	Position     int32
	Velocity     int32
	Torque       int16
	ErrorCode    uint16
	Temperatures [TemperatureChannels]int16
}

// Put encodes the outputs into an output process image.
func (o *DriveOutputs) Put(img []byte) {
	_ = img[OutputImageLen-1]
	binary.LittleEndian.PutUint16(img[0:], o.Controlword)
	img[2] = byte(o.Mode)
	binary.LittleEndian.PutUint32(img[3:], uint32(o.TargetPosition))
	binary.LittleEndian.PutUint32(img[7:], uint32(o.TargetVelocity))
}

// DecodeOutputs decodes an output process image. Used by simulators and
// tests; the cycle engine only ever encodes.
func DecodeOutputs(img []byte) DriveOutputs {
	_ = img[OutputImageLen-1]
	return DriveOutputs{
		Controlword:    binary.LittleEndian.Uint16(img[0:]),
		Mode:           int8(img[2]),
		TargetPosition: int32(binary.LittleEndian.Uint32(img[3:])),
		TargetVelocity: int32(binary.LittleEndian.Uint32(img[7:])),
	}
}

// Put encodes the inputs into an input process image. Used by simulators.
func (i *DriveInputs) Put(img []byte) {
	_ = img[InputImageLen-1]
	binary.LittleEndian.PutUint16(img[0:], i.Statusword)
	img[2] = byte(i.Mode)
	binary.LittleEndian.PutUint32(img[3:], uint32(i.Position))
	binary.LittleEndian.PutUint32(img[7:], uint32(i.Velocity))
	binary.LittleEndian.PutUint16(img[11:], uint16(i.Torque))
	binary.LittleEndian.PutUint16(img[13:], i.ErrorCode)
	for ch := 0; ch < TemperatureChannels; ch++ {
		binary.LittleEndian.PutUint16(img[15+2*ch:], uint16(i.Temperatures[ch]))
	}
}

// DecodeInputs decodes an input process image.
func DecodeInputs(img []byte) DriveInputs {
	_ = img[InputImageLen-1]
	in := DriveInputs{
		Statusword: binary.LittleEndian.Uint16(img[0:]),
		Mode:       int8(img[2]),
		Position:   int32(binary.LittleEndian.Uint32(img[3:])),
		Velocity:   int32(binary.LittleEndian.Uint32(img[7:])),
		Torque:     int16(binary.LittleEndian.Uint16(img[11:])),
		ErrorCode:  binary.LittleEndian.Uint16(img[13:]),
	}
	for ch := 0; ch < TemperatureChannels; ch++ {
		in.Temperatures[ch] = int16(binary.LittleEndian.Uint16(img[15+2*ch:]))
	}
	return in
}

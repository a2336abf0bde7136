// Package pb encodes and decodes application messages in the protobuf wire
// format.
//
// Encoding is schema-driven: each message type has fixed field numbers and
// wire types, and proto3 zero-value scalars are omitted. Every message type
// has a compile-time size ceiling used by callers to bound frame buffers.
package pb

// Per-field worst cases: a one-byte key plus the largest value encoding.
const (
	keySize       = 1
	maxVarint32   = 5
	maxVarint64   = 10
	maxLenPrefix  = 2 // length varint for bodies under 16 KiB
	uint32Field   = keySize + maxVarint32
	uint64Field   = keySize + maxVarint64
	sint32Field   = keySize + maxVarint32
	boolField     = keySize + 1
	embeddedFixed = keySize + maxLenPrefix
)

// MaxDosimeterReadings bounds DosimeterData.Readings.
const MaxDosimeterReadings = 8

// MaxImageDataSize bounds ImagePacket.Data so a packet fits one frame.
const MaxImageDataSize = 200

// Protocol message ceilings.
const (
	AckSize             = uint32Field
	NackSize            = uint32Field
	ProtocolMessageSize = embeddedFixed + AckSize
)

// Telecommand ceilings.
const (
	BeginPassSize          = uint32Field
	BeginFileTransferSize  = uint32Field
	CeaseTransmissionSize  = uint32Field
	UpdateTimeSize         = uint64Field
	ResetSize              = uint32Field + boolField
	ResumeTransmissionSize = 0
	TelecommandMessageSize = embeddedFixed + UpdateTimeSize
)

// File transfer ceilings.
const (
	ObcTelemetrySize         = 4*uint32Field + uint64Field + sint32Field
	TransceiverTelemetrySize = 4*uint32Field + 2*sint32Field
	CameraTelemetrySize      = 3*uint32Field + sint32Field
	EpsTelemetrySize         = 4*uint32Field + sint32Field
	BatteryTelemetrySize     = 2*uint32Field + 2*sint32Field
	AntennaTelemetrySize     = uint32Field + 2*sint32Field + 2*boolField
	DosimeterDataSize        = embeddedFixed + MaxDosimeterReadings*maxVarint32
	ImagePacketSize          = 2*uint32Field + embeddedFixed + MaxImageDataSize
	ModuleErrorReportSize    = uint32Field + sint32Field
	ComponentErrorReportSize = uint32Field + sint32Field

	// FileTransferPayloadSize is the largest encoded file transfer body.
	FileTransferPayloadSize = ImagePacketSize
	FileTransferMessageSize = embeddedFixed + FileTransferPayloadSize
)

// RadsatMessageSize is the ceiling for any encoded top-level message.
const RadsatMessageSize = embeddedFixed + FileTransferMessageSize

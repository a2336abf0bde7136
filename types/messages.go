// Package types defines the application message model carried in radio frames.
//
// A Message is a tagged union over three services. Each service is itself a
// tagged union, and every tag is the protobuf field number used on the wire,
// so the same value serves as the in-memory discriminant and the file
// transfer message-type identifier.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// ServiceTag discriminates the top-level message service.
type ServiceTag uint8

// Service tags (RadsatMessage oneof field numbers).
const (
	ServiceProtocol     ServiceTag = 1
	ServiceTelecommand  ServiceTag = 2
	ServiceFileTransfer ServiceTag = 3
)

func (s ServiceTag) String() string {
	switch s {
	case ServiceProtocol:
		return "protocol"
	case ServiceTelecommand:
		return "telecommand"
	case ServiceFileTransfer:
		return "file_transfer"
	default:
		return fmt.Sprintf("service(%d)", uint8(s))
	}
}

// Message is the payload body of a frame.
// Implemented by *ProtocolMessage, *TelecommandMessage and *FileTransferMessage.
type Message interface {
	Service() ServiceTag
	isMessage()
}

// --- Protocol service ---

// ProtocolTag discriminates protocol messages.
type ProtocolTag uint8

// Protocol tags.
const (
	ProtocolAck  ProtocolTag = 1
	ProtocolNack ProtocolTag = 2
)

func (t ProtocolTag) String() string {
	switch t {
	case ProtocolAck:
		return "ack"
	case ProtocolNack:
		return "nack"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(t))
	}
}

// ProtocolBody is implemented by Ack and Nack.
type ProtocolBody interface {
	ProtocolTag() ProtocolTag
	isProtocolBody()
}

// Ack acknowledges the last received frame.
type Ack struct {
	Resp uint32 `json:"resp" yaml:"resp"`
}

// Nack rejects the last received frame.
type Nack struct {
	Resp uint32 `json:"resp" yaml:"resp"`
}

func (Ack) ProtocolTag() ProtocolTag  { return ProtocolAck }
func (Nack) ProtocolTag() ProtocolTag { return ProtocolNack }
func (Ack) isProtocolBody() {}
func (Nack) isProtocolBody() {}

// ProtocolMessage carries flow-control responses.
type ProtocolMessage struct {
	Body ProtocolBody
}

func (*ProtocolMessage) Service() ServiceTag { return ServiceProtocol }
func (*ProtocolMessage) isMessage() {}

// --- Telecommand service ---

// TelecommandTag discriminates telecommands.
type TelecommandTag uint8

// Telecommand tags.
const (
	TelecommandBeginPass          TelecommandTag = 1
	TelecommandBeginFileTransfer  TelecommandTag = 2
	TelecommandCeaseTransmission  TelecommandTag = 3
	TelecommandUpdateTime         TelecommandTag = 4
	TelecommandReset              TelecommandTag = 5
	TelecommandResumeTransmission TelecommandTag = 6
)

func (t TelecommandTag) String() string {
	switch t {
	case TelecommandBeginPass:
		return "begin_pass"
	case TelecommandBeginFileTransfer:
		return "begin_file_transfer"
	case TelecommandCeaseTransmission:
		return "cease_transmission"
	case TelecommandUpdateTime:
		return "update_time"
	case TelecommandReset:
		return "reset"
	case TelecommandResumeTransmission:
		return "resume_transmission"
	default:
		return fmt.Sprintf("telecommand(%d)", uint8(t))
	}
}

// TelecommandBody is implemented by every telecommand variant.
type TelecommandBody interface {
	TelecommandTag() TelecommandTag
	isTelecommandBody()
}

// BeginPass opens a ground-station pass.
type BeginPass struct {
	// PassLength is the ground station's estimate of the pass, in seconds.
	PassLength uint32 `json:"pass_length" yaml:"pass_length"`
}

// BeginFileTransfer switches the pass into downlink streaming.
type BeginFileTransfer struct {
	Resp uint32 `json:"resp" yaml:"resp"`
}

// CeaseTransmission silences the transmitter until resumed.
type CeaseTransmission struct {
	// Duration is the requested silence, in seconds. Informational only.
	Duration uint32 `json:"duration" yaml:"duration"`
}

// UpdateTime sets the onboard clock.
type UpdateTime struct {
	UnixTime uint64 `json:"unix_time" yaml:"unix_time"`
}

// Reset requests a device reset.
type Reset struct {
	Device uint32 `json:"device" yaml:"device"`
	Hard   bool   `json:"hard" yaml:"hard"`
}

// ResumeTransmission leaves quiet mode and restarts the pass.
type ResumeTransmission struct{}

func (BeginPass) TelecommandTag() TelecommandTag         { return TelecommandBeginPass }
func (BeginFileTransfer) TelecommandTag() TelecommandTag { return TelecommandBeginFileTransfer }
func (CeaseTransmission) TelecommandTag() TelecommandTag { return TelecommandCeaseTransmission }
func (UpdateTime) TelecommandTag() TelecommandTag        { return TelecommandUpdateTime }
func (Reset) TelecommandTag() TelecommandTag             { return TelecommandReset }
func (ResumeTransmission) TelecommandTag() TelecommandTag {
	return TelecommandResumeTransmission
}

func (BeginPass) isTelecommandBody() {}
func (BeginFileTransfer) isTelecommandBody() {}
func (CeaseTransmission) isTelecommandBody() {}
func (UpdateTime) isTelecommandBody() {}
func (Reset) isTelecommandBody() {}
func (ResumeTransmission) isTelecommandBody() {}

// TelecommandMessage carries an uplinked command.
type TelecommandMessage struct {
	Body TelecommandBody
}

func (*TelecommandMessage) Service() ServiceTag { return ServiceTelecommand }
func (*TelecommandMessage) isMessage() {}

// --- File transfer service ---

// FileTransferTag identifies a downlink message type.
type FileTransferTag uint8

// File transfer tags.
const (
	FileTransferObcTelemetry         FileTransferTag = 1
	FileTransferTransceiverTelemetry FileTransferTag = 2
	FileTransferCameraTelemetry      FileTransferTag = 3
	FileTransferEpsTelemetry         FileTransferTag = 4
	FileTransferBatteryTelemetry     FileTransferTag = 5
	FileTransferAntennaTelemetry     FileTransferTag = 6
	FileTransferDosimeterData        FileTransferTag = 7
	FileTransferImagePacket          FileTransferTag = 8
	FileTransferModuleErrorReport    FileTransferTag = 9
	FileTransferComponentErrorReport FileTransferTag = 10
)

var fileTransferNames = map[FileTransferTag]string{
	FileTransferObcTelemetry:         "obc_telemetry",
	FileTransferTransceiverTelemetry: "transceiver_telemetry",
	FileTransferCameraTelemetry:      "camera_telemetry",
	FileTransferEpsTelemetry:         "eps_telemetry",
	FileTransferBatteryTelemetry:     "battery_telemetry",
	FileTransferAntennaTelemetry:     "antenna_telemetry",
	FileTransferDosimeterData:        "dosimeter_data",
	FileTransferImagePacket:          "image_packet",
	FileTransferModuleErrorReport:    "module_error_report",
	FileTransferComponentErrorReport: "component_error_report",
}

func (t FileTransferTag) String() string {
	if name, ok := fileTransferNames[t]; ok {
		return name
	}
	return fmt.Sprintf("file_transfer(%d)", uint8(t))
}

// Valid reports whether t names a known file transfer message type.
func (t FileTransferTag) Valid() bool {
	_, ok := fileTransferNames[t]
	return ok
}

// FileTransferBody is implemented by every downlink payload variant.
type FileTransferBody interface {
	FileTransferTag() FileTransferTag
	isFileTransferBody()
}

// ObcTelemetry is the onboard computer housekeeping record.
type ObcTelemetry struct {
	Mode           uint32 `json:"mode" yaml:"mode"`
	Uptime         uint32 `json:"uptime" yaml:"uptime"`
	RtcTime        uint64 `json:"rtc_time" yaml:"rtc_time"`
	RtcTemperature int32  `json:"rtc_temperature" yaml:"rtc_temperature"`
	BootCount      uint32 `json:"boot_count" yaml:"boot_count"`
	LastResetCause uint32 `json:"last_reset_cause" yaml:"last_reset_cause"`
}

// TransceiverTelemetry is the radio housekeeping record.
type TransceiverTelemetry struct {
	Uptime      uint32 `json:"uptime" yaml:"uptime"`
	RxFrames    uint32 `json:"rx_frames" yaml:"rx_frames"`
	TxFrames    uint32 `json:"tx_frames" yaml:"tx_frames"`
	Rssi        int32  `json:"rssi" yaml:"rssi"`
	Temperature int32  `json:"temperature" yaml:"temperature"`
	Voltage     uint32 `json:"voltage" yaml:"voltage"`
}

// CameraTelemetry is the imager housekeeping record.
type CameraTelemetry struct {
	Uptime         uint32 `json:"uptime" yaml:"uptime"`
	Temperature    int32  `json:"temperature" yaml:"temperature"`
	Current        uint32 `json:"current" yaml:"current"`
	ImagesCaptured uint32 `json:"images_captured" yaml:"images_captured"`
}

// EpsTelemetry is the power system housekeeping record.
type EpsTelemetry struct {
	Uptime       uint32 `json:"uptime" yaml:"uptime"`
	BusVoltage   uint32 `json:"bus_voltage" yaml:"bus_voltage"`
	BusCurrent   uint32 `json:"bus_current" yaml:"bus_current"`
	Temperature  int32  `json:"temperature" yaml:"temperature"`
	OutputStatus uint32 `json:"output_status" yaml:"output_status"`
}

// BatteryTelemetry is the battery pack housekeeping record.
type BatteryTelemetry struct {
	Voltage     uint32 `json:"voltage" yaml:"voltage"`
	Current     int32  `json:"current" yaml:"current"`
	Temperature int32  `json:"temperature" yaml:"temperature"`
	Charge      uint32 `json:"charge" yaml:"charge"`
}

// AntennaTelemetry is the deployable antenna status record.
type AntennaTelemetry struct {
	DeployedMask     uint32 `json:"deployed_mask" yaml:"deployed_mask"`
	SideATemperature int32  `json:"side_a_temperature" yaml:"side_a_temperature"`
	SideBTemperature int32  `json:"side_b_temperature" yaml:"side_b_temperature"`
	ArmedA           bool   `json:"armed_a" yaml:"armed_a"`
	ArmedB           bool   `json:"armed_b" yaml:"armed_b"`
}

// DosimeterData carries raw dosimeter channel readings.
type DosimeterData struct {
	Readings []uint32 `json:"readings" yaml:"readings"`
}

// ImagePacket is one slice of a captured image. Images larger than one
// frame are split across many packets by the producer.
type ImagePacket struct {
	ID   uint32 `json:"id" yaml:"id"`
	Type uint32 `json:"type" yaml:"type"`
	Data []byte `json:"data" yaml:"data"`
}

// ModuleErrorReport reports an error counted against a software module.
type ModuleErrorReport struct {
	ModuleID uint32 `json:"module_id" yaml:"module_id"`
	Error    int32  `json:"error" yaml:"error"`
}

// ComponentErrorReport reports an error counted against a hardware component.
type ComponentErrorReport struct {
	ComponentID uint32 `json:"component_id" yaml:"component_id"`
	Error       int32  `json:"error" yaml:"error"`
}

func (ObcTelemetry) FileTransferTag() FileTransferTag { return FileTransferObcTelemetry }
func (TransceiverTelemetry) FileTransferTag() FileTransferTag {
	return FileTransferTransceiverTelemetry
}
func (CameraTelemetry) FileTransferTag() FileTransferTag  { return FileTransferCameraTelemetry }
func (EpsTelemetry) FileTransferTag() FileTransferTag     { return FileTransferEpsTelemetry }
func (BatteryTelemetry) FileTransferTag() FileTransferTag { return FileTransferBatteryTelemetry }
func (AntennaTelemetry) FileTransferTag() FileTransferTag { return FileTransferAntennaTelemetry }
func (DosimeterData) FileTransferTag() FileTransferTag    { return FileTransferDosimeterData }
func (ImagePacket) FileTransferTag() FileTransferTag      { return FileTransferImagePacket }
func (ModuleErrorReport) FileTransferTag() FileTransferTag {
	return FileTransferModuleErrorReport
}
func (ComponentErrorReport) FileTransferTag() FileTransferTag {
	return FileTransferComponentErrorReport
}

func (ObcTelemetry) isFileTransferBody() {}
func (TransceiverTelemetry) isFileTransferBody() {}
func (CameraTelemetry) isFileTransferBody() {}
func (EpsTelemetry) isFileTransferBody() {}
func (BatteryTelemetry) isFileTransferBody() {}
func (AntennaTelemetry) isFileTransferBody() {}
func (DosimeterData) isFileTransferBody() {}
func (ImagePacket) isFileTransferBody() {}
func (ModuleErrorReport) isFileTransferBody() {}
func (ComponentErrorReport) isFileTransferBody() {}

// FileTransferMessage carries one downlink record.
type FileTransferMessage struct {
	Body FileTransferBody
}

func (*FileTransferMessage) Service() ServiceTag { return ServiceFileTransfer }
func (*FileTransferMessage) isMessage() {}

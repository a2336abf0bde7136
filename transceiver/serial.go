package transceiver

import (
	"go.bug.st/serial"

	"github.com/justapithecus/radsat/log"
)

// OpenSerial opens a radio attached to a serial port. The port runs 8N1 at
// baud; when cfg.Bitrate is zero transmission is paced at the baud rate.
func OpenSerial(port string, baud int, cfg StreamConfig, logger *log.Logger) (*Stream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, opError("open_serial", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, opError("open_serial", err)
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = baud
	}
	return NewStream(p, cfg, logger), nil
}

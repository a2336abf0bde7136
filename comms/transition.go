package comms

// Transition applies ev to s. Events that are not valid in the current mode
// return s unchanged with no effects.
func (r Rules) Transition(s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EventBeginPass:
		if s.Mode != ModeIdle && s.Mode != ModeTelecommand {
			return s, nil
		}
		if s.Telecommand.TransmitReady {
			return s, nil
		}
		return beginPass(s, ev.PassLength)

	case EventBeginFileTransfer:
		if s.Mode != ModeTelecommand {
			return s, nil
		}
		s.Mode = ModeFileTransfer
		if r.AckBeginFileTransfer && !s.Telecommand.TransmitReady {
			s.Telecommand = TelecommandState{TransmitReady: true, ResponseToSend: ResponseAck}
		}
		return s, nil

	case EventAckReceived, EventNackReceived:
		if s.Mode != ModeFileTransfer || s.FileTransfer.TransmitReady {
			return s, nil
		}
		s.FileTransfer.TransmitReady = true
		s.FileTransfer.ResponseReceived = ResponseAck
		if ev.Kind == EventNackReceived {
			s.FileTransfer.ResponseReceived = ResponseNack
		}
		return s, nil

	case EventUpdateTime:
		if s.Mode != ModeTelecommand {
			return s, nil
		}
		s.Telecommand = TelecommandState{TransmitReady: true, ResponseToSend: ResponseAck}
		return s, []Effect{{Kind: EffectSetTime, UnixTime: ev.UnixTime}}

	case EventReset:
		if s.Mode != ModeTelecommand {
			return s, nil
		}
		s.Telecommand = TelecommandState{TransmitReady: true, ResponseToSend: ResponseAck}
		return s, []Effect{{Kind: EffectReset, Device: ev.Device, Hard: ev.Hard}}

	case EventSendNack:
		if s.Mode != ModeTelecommand || s.Telecommand.TransmitReady {
			return s, nil
		}
		s.Telecommand = TelecommandState{TransmitReady: true, ResponseToSend: ResponseNack}
		return s, nil

	case EventCeaseTransmission:
		effects := []Effect{{Kind: EffectStopPassTimer}, {Kind: EffectStopQuietTimer}}
		if s.InPass() {
			effects = append(effects, Effect{Kind: EffectPassEnded, Reason: EndCeased})
		}
		return State{Mode: ModeQuiet}, effects

	case EventResumeTransmission:
		next, effects := beginPass(State{}, 0)
		if s.InPass() {
			// Same pass, restarted timer.
			effects = effects[:1]
		}
		return next, append([]Effect{{Kind: EffectStopQuietTimer}}, effects...)

	case EventPassTimeout:
		if !s.InPass() {
			return s, nil
		}
		return endPassMode(EndTimeout)

	case EventQuietTimeout:
		if s.Mode != ModeQuiet {
			return s, nil
		}
		return State{}, nil

	default:
		return s, nil
	}
}

// Poll is consulted once per Tx cycle. queued is the number of frames
// waiting in the downlink queue behind the current frame.
//
// An Ack received while the queue is empty stays pending, so the next frame
// added is sent on a later poll without another Ack.
func (r Rules) Poll(s State, queued int) (State, Action, []Effect) {
	switch s.Mode {
	case ModeTelecommand:
		if !s.Telecommand.TransmitReady {
			return s, ActionNone, nil
		}
		return flushTelecommand(s)

	case ModeFileTransfer:
		if s.Telecommand.TransmitReady {
			return flushTelecommand(s)
		}
		if !s.FileTransfer.TransmitReady {
			return s, ActionNone, nil
		}
		switch s.FileTransfer.ResponseReceived {
		case ResponseAck:
			s.FileTransfer.TransmissionErrors = 0
			if queued == 0 {
				return s, ActionNone, nil
			}
			s.FileTransfer.TransmitReady = false
			return s, ActionNextFrame, nil
		case ResponseNack:
			s.FileTransfer.TransmitReady = false
			s.FileTransfer.TransmissionErrors++
			if r.NackErrorLimit > 0 && s.FileTransfer.TransmissionErrors >= r.NackErrorLimit {
				next, effects := endPassMode(EndNackLimit)
				return next, ActionNone, append([]Effect{{Kind: EffectStopPassTimer}}, effects...)
			}
			if r.NackPolicy == NackSilent {
				return s, ActionNone, nil
			}
			return s, ActionCurrentFrame, nil
		default:
			s.FileTransfer.TransmitReady = false
			return s, ActionNone, nil
		}

	default:
		return s, ActionNone, nil
	}
}

func beginPass(s State, passLength uint32) (State, []Effect) {
	wasIdle := s.Mode == ModeIdle
	next := State{
		Mode:        ModeTelecommand,
		Telecommand: TelecommandState{TransmitReady: true, ResponseToSend: ResponseAck},
	}
	effects := []Effect{{Kind: EffectStartPassTimer}}
	if wasIdle {
		effects = append(effects, Effect{Kind: EffectPassStarted, PassLength: passLength})
	}
	return next, effects
}

func endPassMode(reason EndReason) (State, []Effect) {
	return State{Mode: ModeQuiet}, []Effect{
		{Kind: EffectStartQuietTimer},
		{Kind: EffectPassEnded, Reason: reason},
	}
}

func flushTelecommand(s State) (State, Action, []Effect) {
	action := ActionSendAck
	if s.Telecommand.ResponseToSend == ResponseNack {
		action = ActionSendNack
	}
	s.Telecommand = TelecommandState{}
	return s, action, nil
}

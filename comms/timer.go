package comms

import "time"

// oneShot is a lazily created timer that is reset, not recreated, on every
// start. Its expiry is delivered to the machine as a request; the armed flag
// and deadline let the machine discard an expiry that raced a stop or a
// restart.
type oneShot struct {
	name     string
	t        *time.Timer
	armed    bool
	deadline time.Time
}

func (o *oneShot) start(d time.Duration, fire func()) {
	o.armed = true
	o.deadline = time.Now().Add(d)
	if o.t == nil {
		o.t = time.AfterFunc(d, fire)
		return
	}
	o.t.Stop()
	o.t.Reset(d)
}

func (o *oneShot) stop() {
	o.armed = false
	if o.t != nil {
		o.t.Stop()
	}
}

// fired reports whether an expiry observed at now is current, and disarms
// the timer if so.
func (o *oneShot) fired(now time.Time) bool {
	if !o.armed || now.Before(o.deadline) {
		return false
	}
	o.armed = false
	return true
}

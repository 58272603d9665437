package docsync

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a socket whose send queue is full.
// response tells whether the frame was a request result rather than a push.
type Policy interface {
	OnBackPressure(sid string, response bool) BackpressureAction
}

// SimplePolicy drops the socket; a client that missed a push must resubscribe.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(string, bool) BackpressureAction { return KickMember }

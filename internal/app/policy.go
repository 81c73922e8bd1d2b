package app

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConnection
)

// Policy decides what to do with a connection that is not draining its
// outbound queue.
type Policy interface {
	OnBackpressure(conn ConnID, misses int) BackpressureAction
}

// SimplePolicy drops frames for a slow connection and kicks it once it has
// been persistently behind.
type SimplePolicy struct {
	KickAfter int
}

func (p SimplePolicy) OnBackpressure(conn ConnID, misses int) BackpressureAction {
	if p.KickAfter > 0 && misses >= p.KickAfter {
		return KickConnection
	}
	return DropFrame
}

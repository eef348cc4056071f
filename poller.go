package fiber

// poller is the platform readiness-multiplexing facility. Registrations
// are level-triggered. wait returns without error and without events
// when interrupted by a signal.
type poller interface {
	add(fd int, events IOEvents) error
	modify(fd int, events IOEvents) error
	remove(fd int) error
	wait(timeout int, deliver func(fd int, events IOEvents)) error
	close() error
}

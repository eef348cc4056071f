package fiber

import "golang.org/x/sys/unix"

// pollNow reports the current readiness of every batch member with a
// zero-timeout poll(2). Members with a negative FD are left untouched.
func pollNow(items []BatchItem) error {
	fds := make([]unix.PollFd, len(items))
	for i, it := range items {
		fds[i] = unix.PollFd{Fd: int32(it.FD), Events: eventsToPoll(it.Events)}
	}

	for {
		_, err := unix.Poll(fds, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		break
	}

	for i := range items {
		if items[i].FD < 0 {
			continue
		}
		items[i].Revents = pollToEvents(fds[i].Revents) & (items[i].Events | alwaysReported)
	}
	return nil
}

func eventsToPoll(events IOEvents) int16 {
	var ev int16
	if events&EventRead != 0 {
		ev |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func pollToEvents(ev int16) IOEvents {
	var events IOEvents
	if ev&(unix.POLLIN|unix.POLLPRI) != 0 {
		events |= EventRead
	}
	if ev&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if ev&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

//go:build unix && !linux

package fiber

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pollPoller rebuilds a poll(2) set on every wait. It serves platforms
// without epoll.
type pollPoller struct {
	fds map[int]IOEvents
	buf []unix.PollFd
}

func newPoller(int) (poller, error) {
	return &pollPoller{fds: make(map[int]IOEvents)}, nil
}

func (p *pollPoller) add(fd int, events IOEvents) error {
	if _, ok := p.fds[fd]; ok {
		return unix.EEXIST
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return err
	}
	p.fds[fd] = events
	return nil
}

func (p *pollPoller) modify(fd int, events IOEvents) error {
	if _, ok := p.fds[fd]; !ok {
		return unix.ENOENT
	}
	p.fds[fd] = events
	return nil
}

func (p *pollPoller) remove(fd int) error {
	if _, ok := p.fds[fd]; !ok {
		return unix.ENOENT
	}
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) wait(timeout int, deliver func(int, IOEvents)) error {
	p.buf = p.buf[:0]
	for fd, events := range p.fds {
		p.buf = append(p.buf, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(events)})
	}

	n, err := unix.Poll(p.buf, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("fiber: poll: %w", err)
	}
	for i := 0; i < len(p.buf) && n > 0; i++ {
		if p.buf[i].Revents == 0 {
			continue
		}
		n--
		deliver(int(p.buf[i].Fd), pollToEvents(p.buf[i].Revents))
	}
	return nil
}

func (p *pollPoller) close() error {
	p.fds = nil
	return nil
}

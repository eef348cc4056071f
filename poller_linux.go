//go:build linux

package fiber

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type epoll struct {
	fd     int
	events []unix.EpollEvent
}

func newPoller(maxEvents int) (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("fiber: epoll create: %w", err)
	}
	return &epoll{fd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *epoll) add(fd int, events IOEvents) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epoll) modify(fd int, events IOEvents) error {
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epoll) remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epoll) wait(timeout int, deliver func(int, IOEvents)) error {
	n, err := unix.EpollWait(p.fd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("fiber: epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		deliver(int(p.events[i].Fd), epollToEvents(p.events[i].Events))
	}
	return nil
}

func (p *epoll) close() error {
	return unix.Close(p.fd)
}

func eventsToEpoll(events IOEvents) uint32 {
	var ev uint32
	if events&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToEvents(ev uint32) IOEvents {
	var events IOEvents
	if ev&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		events |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if ev&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

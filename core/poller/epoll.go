//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based readiness watcher.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a Poller (Linux). entries sizes the event buffer; it
// is clamped to a sane minimum.
func NewPoller(entries int) (Poller, error) {
	if entries < 64 {
		entries = 64
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, entries),
	}, nil
}

// Add adds a file descriptor to the watch list.
func (p *EpollPoller) Add(fd int) error {
	ev := unix.EpollEvent{
		// Level-triggered EPOLLIN plus EPOLLRDHUP to catch peer shutdown.
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Remove removes a file descriptor from the watch list.
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for readiness events.
func (p *EpollPoller) Wait(timeout int) ([]int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, int(p.events[i].Fd))
	}
	return fds, nil
}

// Close closes the poller.
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}

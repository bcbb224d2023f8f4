//go:build linux

package poller

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer with an eventfd wakeup
// channel.
type EpollPoller struct {
	epfd    int
	wakeFd  int
	events  []unix.EpollEvent
	wakeBuf [8]byte
}

// NewPoller creates a new Poller (Linux).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &EpollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		events: make([]unix.EpollEvent, 1024),
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}

	return p, nil
}

// Add adds a file descriptor to the watch list.
func (p *EpollPoller) Add(fd int) error {
	ev := unix.EpollEvent{
		// Level-triggered for reliability; EPOLLRDHUP detects peer
		// shutdown without a read returning 0 first
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify switches an already watched descriptor between read interest
// and write-only interest. Write-only matters: leaving EPOLLRDHUP armed
// during a stalled write would level-trigger forever on a half-closed
// peer.
func (p *EpollPoller) Modify(fd int, writable bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if writable {
		ev.Events = unix.EPOLLOUT
	} else {
		ev.Events = unix.EPOLLIN | unix.EPOLLRDHUP
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove removes a file descriptor from the watch list.
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events.
func (p *EpollPoller) Wait(timeout int) ([]Event, bool, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil && err != unix.EINTR {
		return nil, false, err
	}
	if n <= 0 {
		return nil, false, nil
	}

	woken := false
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			woken = true
			continue
		}
		mask := p.events[i].Events
		events = append(events, Event{
			FD:       fd,
			Readable: mask&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Writable: mask&unix.EPOLLOUT != 0,
		})
	}
	return events, woken, nil
}

// Wakeup increments the eventfd, forcing a concurrent Wait to return.
func (p *EpollPoller) Wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wakeFd, buf[:])
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// Counter saturated, a wake is already pending
			return nil
		default:
			return err
		}
	}
}

// drainWake resets the eventfd counter so level-triggered epoll stops
// reporting it.
func (p *EpollPoller) drainWake() {
	for {
		if _, err := unix.Read(p.wakeFd, p.wakeBuf[:]); err != unix.EINTR {
			return
		}
	}
}

// Close closes the Poller.
func (p *EpollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}

// SetNonblock sets non-blocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

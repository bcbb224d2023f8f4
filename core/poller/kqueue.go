//go:build darwin

package poller

import (
	"golang.org/x/sys/unix"
)

// wakeIdent is the kqueue user-event identity used for Wakeup.
const wakeIdent = 0

// KqueuePoller is a kqueue-based I/O multiplexer with an EVFILT_USER
// wakeup channel.
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
}

// NewPoller creates a new Poller (macOS).
func NewPoller() (Poller, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	p := &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, 1024),
	}

	ev := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kqfd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		unix.Close(kqfd)
		return nil, err
	}

	return p, nil
}

// Add adds a file descriptor to the watch list.
func (p *KqueuePoller) Add(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		// Level-triggered (no EV_CLEAR) for reliability
		Flags: unix.EV_ADD | unix.EV_ENABLE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Modify switches an already watched descriptor between read interest
// and write-only interest. The filters swap rather than stack so a
// stalled write does not keep level-triggering the read filter on a
// half-closed peer.
func (p *KqueuePoller) Modify(fd int, writable bool) error {
	add := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}
	del := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_WRITE,
		Flags:  unix.EV_DELETE,
	}
	if writable {
		add.Filter, del.Filter = del.Filter, add.Filter
	}
	if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{add}, nil, nil); err != nil {
		return err
	}
	if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{del}, nil, nil); err != nil && err != unix.ENOENT {
		// The filter being dropped may never have been armed
		return err
	}
	return nil
}

// Remove removes a file descriptor from the watch list.
func (p *KqueuePoller) Remove(fd int) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Wait waits for I/O events.
func (p *KqueuePoller) Wait(timeout int) ([]Event, bool, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil && err != unix.EINTR {
		return nil, false, err
	}
	if n <= 0 {
		return nil, false, nil
	}

	woken := false
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		if ev.Filter == unix.EVFILT_USER {
			woken = true
			continue
		}
		events = append(events, Event{
			FD:       int(ev.Ident),
			Readable: ev.Filter == unix.EVFILT_READ,
			Writable: ev.Filter == unix.EVFILT_WRITE,
		})
	}
	return events, woken, nil
}

// Wakeup triggers the user event, forcing a concurrent Wait to return.
func (p *KqueuePoller) Wakeup() error {
	ev := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Close closes the Poller.
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}

// SetNonblock sets non-blocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

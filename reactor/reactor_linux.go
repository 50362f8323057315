//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

// linuxReactor is a level-triggered epoll reactor with an eventfd wakeup.
type linuxReactor struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

// New constructs a new platform-specific Reactor for Linux.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &linuxReactor{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func toEpoll(interest api.Interest) uint32 {
	var events uint32
	if interest&api.Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&api.Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func fromEpoll(events uint32) api.Interest {
	var ready api.Interest
	if events&unix.EPOLLIN != 0 {
		ready |= api.Readable
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= api.Writable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		ready |= api.Hangup
	}
	return ready
}

// Add registers fd in the epoll interest list.
func (r *linuxReactor) Add(fd int, interest api.Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	return nil
}

// Modify changes the interest set of fd.
func (r *linuxReactor) Modify(fd int, interest api.Interest) error {
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove deletes fd from the epoll interest list.
func (r *linuxReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Wait waits for epoll events and fills the result into events.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	raw := r.raw
	if len(events) < len(raw) {
		raw = raw[:len(events)]
	}
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == r.wakefd {
			r.drainWakeup()
			continue
		}
		events[out] = Event{Fd: fd, Ready: fromEpoll(raw[i].Events)}
		out++
	}
	return out, nil
}

// Wake bumps the eventfd counter so a blocked Wait returns.
func (r *linuxReactor) Wake() error {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(r.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (r *linuxReactor) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the epoll instance and the wakeup descriptor.
func (r *linuxReactor) Close() error {
	err := unix.Close(r.wakefd)
	if cerr := unix.Close(r.epfd); err == nil {
		err = cerr
	}
	return err
}

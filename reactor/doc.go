// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness notification facility the event
// loops multiplex sockets with: level-triggered epoll on Linux, woken through
// an eventfd when new tasks arrive.
package reactor

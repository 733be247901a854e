// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/Tharow-Services/conscrypt-sub000/bio"
)

// sslSelect blocks until sock's fd is ready for the requested
// direction, its wakeup pipe fires (AppData.Interrupt), or deadline
// passes. It is the only suspension point in socket-mode handshakes
// and I/O.
func sslSelect(sock *bio.SocketBIO, forWrite bool, deadline time.Time) (woken bool, err error) {
	events := int16(unix.POLLIN)
	if forWrite {
		events = unix.POLLOUT
	}
	fds := []unix.PollFd{
		{Fd: int32(sock.FD()), Events: events},
		{Fd: int32(sock.WakeupReadFD()), Events: unix.POLLIN},
	}

	timeoutMS := -1
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, errTimeout{}
		}
		timeoutMS = int(remaining.Milliseconds())
	}

	for {
		n, pollErr := unix.Poll(fds, timeoutMS)
		if pollErr == unix.EINTR {
			continue
		}
		if pollErr != nil {
			return false, pollErr
		}
		if n == 0 {
			return false, errTimeout{}
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			sock.DrainWakeup()
			return true, nil
		}
		return false, nil
	}
}

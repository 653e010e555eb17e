//go:build darwin || freebsd

package socket

import "golang.org/x/sys/unix"

// tune applies BSD/Darwin socket options: TCP_FASTOPEN, IP_TOS,
// SO_NOSIGPIPE (BSD delivers SIGPIPE to writes on a closed socket unless
// this is set — Go's runtime doesn't mask it on these platforms the way
// it does on Linux) and IP_DONTFRAG cleared.
func tune(fd uintptr, opts Options) error {
	sysfd := int(fd)

	if opts.FastOpen {
		if err := unix.SetsockoptInt(sysfd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, 1); err != nil {
			return err
		}
	}

	if err := unix.SetsockoptInt(sysfd, unix.IPPROTO_IP, unix.IP_TOS, lowDelayTOS); err != nil {
		return err
	}

	if err := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1); err != nil {
		return err
	}

	if err := unix.SetsockoptInt(sysfd, unix.IPPROTO_IP, unix.IP_DONTFRAG, 0); err != nil {
		return err
	}

	return nil
}

// lowDelayTOS marks relay traffic IPTOS_LOWDELAY, matching
// original_source's Socket::SetTypeOfService default.
const lowDelayTOS = 0x10

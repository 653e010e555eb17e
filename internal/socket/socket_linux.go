//go:build linux

package socket

import "golang.org/x/sys/unix"

// tune applies Linux socket options: TCP_FASTOPEN and IP_TOS, plus
// IP_MTU_DISCOVER=IP_PMTUDISC_DONT to clear the don't-fragment bit.
// Linux never delivers SIGPIPE to socket writes the way BSD/Darwin do —
// the runtime already blocks it process-wide — so there is no Linux
// analogue of SO_NOSIGPIPE to set here.
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

	if err := unix.SetsockoptInt(sysfd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT); err != nil {
		return err
	}

	return nil
}

// lowDelayTOS marks relay traffic IPTOS_LOWDELAY, matching
// original_source's Socket::SetTypeOfService default.
const lowDelayTOS = 0x10

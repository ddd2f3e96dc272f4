// Package pagefault implements the userspace page-fault handler: a
// separate process that serves guest page faults from a snapshot's memory
// image, attaching to the VMM over a local stream socket (spec §4.F).
package pagefault

import (
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// RegionMapping is one entry of the attach handshake payload the VMM sends:
// the region's base host virtual address in the VMM's address space (the
// address space fault-channel events and copies refer to), how big it is,
// and its offset into the backing file.
type RegionMapping struct {
	BaseHostVirtAddr uint64 `json:"base_host_virt_addr"`
	Size             uint64 `json:"size"`
	Offset           uint64 `json:"offset"`
}

// Handshake is the result of a successful one-shot accept: the fault
// channel descriptor, the region layout, and the peer's credentials.
type Handshake struct {
	FaultChannelFD int
	Regions        []RegionMapping
	PeerPID        int32
	PeerUID        uint32
	PeerGID        uint32
}

// Accept listens once on socketPath, accepts a single connection, and reads
// the VMM's handshake message: a JSON region-layout payload plus one
// ancillary-data file descriptor carrying the fault channel (spec §6).
func Accept(socketPath string) (*Handshake, error) {
	unix.Unlink(socketPath)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("pagefault: listen %s: %w", socketPath, err)
	}
	defer l.Close()

	conn, err := l.Accept()
	if err != nil {
		return nil, fmt.Errorf("pagefault: accept: %w", err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("pagefault: not a unix socket connection")
	}

	pid, uid, gid, err := peerCredentials(uc)
	if err != nil {
		return nil, fmt.Errorf("pagefault: peer credentials: %w", err)
	}

	fd, body, err := recvWithRights(uc)
	if err != nil {
		return nil, fmt.Errorf("pagefault: recv handshake: %w", err)
	}

	var regions []RegionMapping
	if err := json.Unmarshal(body, &regions); err != nil {
		unix.Close(fd)
		return nil, newErr(KindMalformedHandshake, "", err)
	}

	return &Handshake{
		FaultChannelFD: fd,
		Regions:        regions,
		PeerPID:        pid,
		PeerUID:        uid,
		PeerGID:        gid,
	}, nil
}

// peerCredentials reads SO_PEERCRED off the connection so the handler can
// record the VMM's process identifier for crash observability.
func peerCredentials(conn *net.UnixConn) (pid int32, uid, gid uint32, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, 0, 0, err
	}
	var ucred *unix.Ucred
	var innerErr error
	ctlErr := raw.Control(func(fd uintptr) {
		ucred, innerErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil {
		return 0, 0, 0, ctlErr
	}
	if innerErr != nil {
		return 0, 0, 0, innerErr
	}
	return ucred.Pid, ucred.Uid, ucred.Gid, nil
}

// recvWithRights reads one message off conn along with exactly one
// ancillary-data file descriptor.
func recvWithRights(conn *net.UnixConn) (fd int, body []byte, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, nil, err
	}

	buf := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(4))
	var n, oobn int
	var recvErr error

	ctlErr := raw.Read(func(sysFd uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(sysFd), buf, oob, 0)
		return true
	})
	if ctlErr != nil {
		return -1, nil, ctlErr
	}
	if recvErr != nil {
		return -1, nil, recvErr
	}
	if oobn == 0 {
		return -1, nil, fmt.Errorf("no ancillary data received")
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, nil, err
	}
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err == nil && len(fds) > 0 {
			return fds[0], buf[:n], nil
		}
	}
	return -1, nil, fmt.Errorf("no file descriptor in ancillary data")
}

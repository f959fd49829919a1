package scanning

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/codec"
)

// idleProbeCount is how many consecutive probes are used to vet a
// candidate zombie's IP-ID behavior before trusting it (spec §4.6).
const idleProbeCount = 6

// idleIPIDTolerance is the maximum per-probe IP-ID delta still considered
// "globally incremental" rather than random/per-flow.
const idleIPIDTolerance = 3

// ZombieTransport is the narrow send/recv contract IdleScanner needs; the
// scheduler supplies a concrete internal/transport.Transport.
type ZombieTransport interface {
	Send(ctx context.Context, dst net.IP, datagram []byte) error
	RecvIPID(ctx context.Context, from net.IP, timeout time.Duration) (id uint16, ok bool, err error)
}

// IdleScanner drives the three-phase Idle/Zombie scan from spec §4.6: it
// is a dedicated driver rather than a ScanStrategy because it needs two
// distinct destinations (zombie, target) per probe instead of one.
type IdleScanner struct {
	Transport ZombieTransport
	Timeout   time.Duration
}

// VetZombie tests idleProbeCount consecutive SYN|ACK probes against a
// candidate zombie and reports whether its IP-ID sequence is globally
// incremental enough to trust (spec §4.6 "Zombie suitability").
func (s *IdleScanner) VetZombie(ctx context.Context, scannerIP, zombie net.IP, zombiePort uint16) (bool, error) {
	ids := make([]uint16, 0, idleProbeCount)
	for i := 0; i < idleProbeCount; i++ {
		id, err := s.probeZombieIPID(ctx, scannerIP, zombie, zombiePort)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		delta := int(ids[i]) - int(ids[i-1])
		if delta < 0 {
			delta += 1 << 16
		}
		if delta == 0 || delta > idleIPIDTolerance {
			return false, nil
		}
	}
	return true, nil
}

// ScanPort runs the three phases of an idle scan for one target port
// against an already-vetted zombie.
func (s *IdleScanner) ScanPort(ctx context.Context, scannerIP, zombie, target net.IP, zombiePort, targetPort uint16) (PortState, string, error) {
	before, err := s.probeZombieIPID(ctx, scannerIP, zombie, zombiePort)
	if err != nil {
		return StateUnknown, "", err
	}

	if err := s.sendSpoofedSYN(ctx, zombie, target, targetPort); err != nil {
		return StateUnknown, "", err
	}

	after, err := s.probeZombieIPID(ctx, scannerIP, zombie, zombiePort)
	if err != nil {
		return StateUnknown, "", err
	}

	delta := int(after) - int(before)
	if delta < 0 {
		delta += 1 << 16
	}

	switch delta {
	case 1:
		return StateClosed, "zombie-ipid-delta-1", nil
	case 2:
		return StateOpen, "zombie-ipid-delta-2", nil
	default:
		return StateUnknown, fmt.Sprintf("zombie-ipid-interference-delta-%d", delta), nil
	}
}

func (s *IdleScanner) probeZombieIPID(ctx context.Context, scannerIP, zombie net.IP, zombiePort uint16) (uint16, error) {
	srcPort := uint16(10000 + rand.Intn(50000))
	pkt, err := buildTCPProbe(scannerIP, zombie, srcPort, zombiePort, codec.TCPFlagSYN|codec.TCPFlagACK, 64, EvasionConfig{})
	if err != nil {
		return 0, err
	}
	if err := s.Transport.Send(ctx, zombie, pkt.Data); err != nil {
		return 0, err
	}
	id, ok, err := s.Transport.RecvIPID(ctx, zombie, s.Timeout)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &ScanError{Op: "idle scan", Err: fmt.Errorf("zombie %s did not respond", zombie)}
	}
	return id, nil
}

// sendSpoofedSYN crafts a SYN with zombie as the source address and sends
// it toward target:targetPort, so target's response (if the port is
// open) goes to the zombie instead of the scanner.
func (s *IdleScanner) sendSpoofedSYN(ctx context.Context, zombie, target net.IP, targetPort uint16) error {
	srcPort := uint16(20000 + rand.Intn(40000))
	seq := rand.Uint32()
	segment, err := codec.BuildTCP(zombie, target, srcPort, targetPort, seq, 0, codec.TCPFlagSYN, 65535, nil, codec.BuildTCPOptions{})
	if err != nil {
		return err
	}
	datagram, err := codec.BuildIPv4(zombie, target, codec.ProtoTCP, 64, segment, codec.BuildIPv4Options{})
	if err != nil {
		return err
	}
	return s.Transport.Send(ctx, target, datagram)
}

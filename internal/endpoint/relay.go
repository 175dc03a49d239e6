package endpoint

import (
	"epfabric/internal/frame"
	"epfabric/internal/ring"
)

// directionRings picks, for ep relative to its bound pair, which ring
// it writes into (carrying bytes toward the partner) and which it
// reads from (carrying bytes from the partner). The lower-numbered
// descriptor is conventionally "side A" of the pair.
func directionRings(ep *Endpoint, pair *ring.Pair, partnerID int) (write, read *ring.Ring) {
	if ep.ID < partnerID {
		return pair.AtoB, pair.BtoA
	}
	return pair.BtoA, pair.AtoB
}

// startRelay wires ep's backend to its freshly bound peer channel: a
// Streamer backend gets a goroutine pumping its raw OS bytes into the
// outbound ring (the wire already carries complete frames, written by
// whatever produced them), and every endpoint gets a goroutine that
// frame-drains its inbound ring and hands each complete frame to
// Backend.OnData.
func (r *Registry) startRelay(ep *Endpoint) {
	pair, partnerID, ok := ep.Peer()
	if !ok {
		return
	}
	writeRing, readRing := directionRings(ep, pair, partnerID)
	done := ep.doneCh()

	if s, ok := ep.Backend.(Streamer); ok {
		go pumpStreamToRing(s, writeRing, done)
	}
	if e, ok := ep.Backend.(Emitter); ok {
		e.SetEmit(func(payload []byte) {
			p := frame.FrameInto(nil, payload)
			for len(p) > 0 {
				written := writeRing.TryWriteFrom(p)
				p = p[written:]
				if written == 0 {
					select {
					case <-done:
						return
					case <-writeRing.Writable():
					}
				}
			}
		})
	}
	go deliverRingToBackend(readRing, ep.Backend, done)
}

// pumpStreamToRing copies raw bytes from a Streamer into dst until the
// Streamer errs (peer closed, I/O failure) or done fires.
func pumpStreamToRing(s Streamer, dst *ring.Ring, done chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := s.Read(buf)
		if err != nil {
			return
		}
		p := buf[:n]
		for len(p) > 0 {
			select {
			case <-done:
				return
			case <-dst.Writable():
			default:
			}
			written := dst.TryWriteFrom(p)
			p = p[written:]
			if written == 0 {
				select {
				case <-done:
					return
				case <-dst.Writable():
				}
			}
		}
	}
}

// deliverRingToBackend frame-drains src and calls backend.OnData for
// every complete frame, blocking on src's readiness channel between
// drains. Streamer backends reconstitute the wire frame and write it
// out raw in their own OnData implementation (see ipc.go/tty.go);
// message-oriented backends (GPIO/SPI/I2C/SYSFS/PORT/LOOP) interpret
// the payload directly.
func deliverRingToBackend(src *ring.Ring, backend Backend, done chan struct{}) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		for {
			payload, n, ok := frame.Drain(buf)
			if !ok {
				break
			}
			buf = buf[n:]
			_ = backend.OnData(payload)
		}
		select {
		case <-done:
			return
		default:
		}
		n := src.TryReadInto(tmp)
		if n == 0 {
			select {
			case <-done:
				return
			case <-src.Readable():
			}
			continue
		}
		buf = append(buf, tmp[:n]...)
	}
}

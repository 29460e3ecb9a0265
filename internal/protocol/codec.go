package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"distributed-ddlock/internal/lock"
)

// Encode serialises m into the byte string handed to the replication
// transport's log_standby_message primitive. The wire layout is a fixed
// prologue (channel tag, kind, origin triple, reserved name length+bytes)
// followed by a kind-specific payload, all big-endian: fixed binary
// framing rather than a text encoding, since this traverses the
// replication stream as an opaque message payload rather than a local
// file.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer

	if _, err := buf.WriteString(Channel); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(m.Kind)); err != nil {
		return nil, err
	}
	if err := writeNodeID(&buf, m.Origin); err != nil {
		return nil, err
	}
	if err := writeString(&buf, m.Name); err != nil {
		return nil, err
	}

	switch m.Kind {
	case KindStart:
		// prologue only

	case KindAcquire:
		if err := binary.Write(&buf, binary.BigEndian, uint32(m.AcquireKind)); err != nil {
			return nil, err
		}

	case KindDecline, KindConfirm:
		if err := writeNodeID(&buf, m.Target); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(m.TargetKind)); err != nil {
			return nil, err
		}

	case KindRelease:
		if err := writeNodeID(&buf, m.Target); err != nil {
			return nil, err
		}

	case KindRequestReplay:
		if err := binary.Write(&buf, binary.BigEndian, m.WaitLSN); err != nil {
			return nil, err
		}

	case KindReplayConfirm:
		if err := binary.Write(&buf, binary.BigEndian, m.RequestLSN); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("protocol: unknown message kind %d", m.Kind)
	}

	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode. It returns an error rather than
// panicking on a short or malformed buffer since malformed input can arrive
// from a peer running a mismatched protocol version.
func Decode(data []byte) (Message, error) {
	r := bytes.NewReader(data)

	tag := make([]byte, len(Channel))
	if _, err := r.Read(tag); err != nil {
		return Message{}, fmt.Errorf("protocol: read channel tag: %w", err)
	}
	if string(tag) != Channel {
		return Message{}, fmt.Errorf("protocol: unexpected channel tag %q", tag)
	}

	var kindWord uint32
	if err := binary.Read(r, binary.BigEndian, &kindWord); err != nil {
		return Message{}, fmt.Errorf("protocol: read kind: %w", err)
	}
	m := Message{Kind: Kind(kindWord)}

	origin, err := readNodeID(r)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: read origin: %w", err)
	}
	m.Origin = origin

	name, err := readString(r)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: read name: %w", err)
	}
	m.Name = name

	switch m.Kind {
	case KindStart:
		// prologue only

	case KindAcquire:
		var k uint32
		if err := binary.Read(r, binary.BigEndian, &k); err != nil {
			return Message{}, fmt.Errorf("protocol: read acquire kind: %w", err)
		}
		m.AcquireKind = lock.Kind(k)

	case KindDecline, KindConfirm:
		target, err := readNodeID(r)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: read target: %w", err)
		}
		m.Target = target
		var k uint32
		if err := binary.Read(r, binary.BigEndian, &k); err != nil {
			return Message{}, fmt.Errorf("protocol: read target kind: %w", err)
		}
		m.TargetKind = lock.Kind(k)

	case KindRelease:
		target, err := readNodeID(r)
		if err != nil {
			return Message{}, fmt.Errorf("protocol: read target: %w", err)
		}
		m.Target = target

	case KindRequestReplay:
		if err := binary.Read(r, binary.BigEndian, &m.WaitLSN); err != nil {
			return Message{}, fmt.Errorf("protocol: read wait_lsn: %w", err)
		}

	case KindReplayConfirm:
		if err := binary.Read(r, binary.BigEndian, &m.RequestLSN); err != nil {
			return Message{}, fmt.Errorf("protocol: read request_lsn: %w", err)
		}

	default:
		return Message{}, fmt.Errorf("protocol: unknown message kind %d", m.Kind)
	}

	return m, nil
}

func writeNodeID(buf *bytes.Buffer, n lock.NodeID) error {
	if err := binary.Write(buf, binary.BigEndian, n.SysID); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, n.Timeline); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, n.DBID)
}

func readNodeID(r *bytes.Reader) (lock.NodeID, error) {
	var n lock.NodeID
	if err := binary.Read(r, binary.BigEndian, &n.SysID); err != nil {
		return lock.NodeID{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &n.Timeline); err != nil {
		return lock.NodeID{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &n.DBID); err != nil {
		return lock.NodeID{}, err
	}
	return n, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

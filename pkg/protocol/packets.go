package protocol

import (
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// Limits taken from https://minecraft.wiki/w/Java_Edition_protocol/Packets#Handshake
const (
	HandshakeMaxLength = 263
	MaxAddressLength   = 255
	PingRequestLength  = 9
	MaxUsernameLength  = 16
)

// Packet IDs used by the exchanges we support
const (
	HandshakeID       = 0x00
	StatusRequestID   = 0x00
	StatusResponseID  = 0x00
	PingRequestID     = 0x01
	PongResponseID    = 0x01
	LoginStartID      = 0x00
	LoginDisconnectID = 0x00
)

// Intent is the "next state" field of the handshake
type Intent byte

const (
	IntentStatus Intent = 1
	IntentLogin  Intent = 2
)

func (i Intent) String() string {
	switch i {
	case IntentStatus:
		return "status"
	case IntentLogin:
		return "login"
	default:
		return "unknown"
	}
}

var (
	ErrHandshakeTooLarge = eris.New("handshake packet too large")
	ErrUnknownPacketID   = eris.New("unknown packet id")
	ErrUnknownProtocol   = eris.New("unknown protocol number")
	ErrAddressTooLong    = eris.New("server address too long")
	ErrBadIntent         = eris.New("the intent number must be either 1 (Status) or 2 (Login)")
	ErrNotStatusRequest  = eris.New("not a Status Request")
	ErrNotPingRequest    = eris.New("not a Ping Request")
	ErrBadUsername       = eris.New("illegal username length")
)

// Reader is what the packet readers need from a connection. bufio.Reader satisfies it.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Handshake holds the fields of the initial serverbound packet
type Handshake struct {
	Protocol int32
	Address  string
	Port     uint16
	Intent   Intent
}

func expectID(r io.ByteReader, want byte, packet string) error {
	id, err := r.ReadByte()
	if err != nil {
		return err
	}

	if id != want {
		return eris.Wrapf(ErrUnknownPacketID, "%s packet has id 0x%02x", packet, id)
	}

	return nil
}

// ReadHandshake reads and validates a complete handshake packet
func ReadHandshake(r Reader) (Handshake, error) {
	var hs Handshake

	length, err := ReadLength(r)
	if err != nil {
		return hs, eris.Wrap(err, "failed to read handshake length")
	}

	if length > HandshakeMaxLength {
		return hs, eris.Wrapf(ErrHandshakeTooLarge, "%d bytes", length)
	}

	if err = expectID(r, HandshakeID, "handshake"); err != nil {
		return hs, err
	}

	protocol, err := ReadLength(r)
	if err != nil {
		return hs, eris.Wrap(err, "failed to read protocol number")
	}

	hs.Protocol = int32(protocol)
	if !IsKnown(hs.Protocol) {
		return hs, eris.Wrapf(ErrUnknownProtocol, "protocol %d", protocol)
	}

	addrLen, err := ReadLength(r)
	if err != nil {
		return hs, eris.Wrap(err, "failed to read server address length")
	}

	if addrLen > MaxAddressLength {
		return hs, eris.Wrapf(ErrAddressTooLong, "%d bytes", addrLen)
	}

	addr := make([]byte, addrLen)
	if _, err = io.ReadFull(r, addr); err != nil {
		return hs, eris.Wrap(err, "failed to read server address")
	}
	hs.Address = string(addr)

	var port [2]byte
	if _, err = io.ReadFull(r, port[:]); err != nil {
		return hs, eris.Wrap(err, "failed to read server port")
	}
	hs.Port = binary.BigEndian.Uint16(port[:])

	intent, err := r.ReadByte()
	if err != nil {
		return hs, eris.Wrap(err, "failed to read intent")
	}

	hs.Intent = Intent(intent)
	if hs.Intent != IntentStatus && hs.Intent != IntentLogin {
		return hs, eris.Wrapf(ErrBadIntent, "got %d", intent)
	}

	return hs, nil
}

// ReadStatusRequest consumes the empty status request packet
func ReadStatusRequest(r Reader) error {
	length, err := ReadLength(r)
	if err != nil {
		return eris.Wrap(err, "failed to read status request length")
	}

	if length != 1 {
		return eris.Wrapf(ErrNotStatusRequest, "length %d", length)
	}

	return expectID(r, StatusRequestID, "status request")
}

// ReadPingRequest reads a ping request and returns its payload
func ReadPingRequest(r Reader) (int64, error) {
	length, err := ReadLength(r)
	if err != nil {
		return 0, eris.Wrap(err, "failed to read ping request length")
	}

	if length != PingRequestLength {
		return 0, eris.Wrapf(ErrNotPingRequest, "length %d", length)
	}

	if err = expectID(r, PingRequestID, "ping request"); err != nil {
		return 0, err
	}

	var payload [8]byte
	if _, err = io.ReadFull(r, payload[:]); err != nil {
		return 0, eris.Wrap(err, "failed to read ping payload")
	}

	return int64(binary.BigEndian.Uint64(payload[:])), nil
}

// ReadLoginStart reads the login start packet up to and including the username.
// Anything after the username (the player UUID on newer versions) is left unread.
func ReadLoginStart(r Reader) (string, error) {
	// The packet length isn't needed since we stop reading after the name.
	if _, err := ReadLength(r); err != nil {
		return "", eris.Wrap(err, "failed to read login start length")
	}

	if err := expectID(r, LoginStartID, "login start"); err != nil {
		return "", err
	}

	nameLen, err := ReadLength(r)
	if eris.Is(err, ErrNonPositiveLength) {
		return "", eris.Wrap(ErrBadUsername, "empty username")
	}
	if err != nil {
		return "", eris.Wrap(err, "failed to read username length")
	}

	if nameLen > MaxUsernameLength {
		return "", eris.Wrapf(ErrBadUsername, "%d bytes", nameLen)
	}

	name := make([]byte, nameLen)
	if _, err = io.ReadFull(r, name); err != nil {
		return "", eris.Wrap(err, "failed to read username")
	}

	return string(name), nil
}

// AppendStringPacket appends a packet consisting of id followed by a single length-prefixed string
func AppendStringPacket(dst []byte, id int32, payload string) []byte {
	strLen := int32(len(payload))
	packetLen := int32(VarIntSize(id)) + int32(VarIntSize(strLen)) + strLen

	dst = AppendVarInt(dst, packetLen)
	dst = AppendVarInt(dst, id)
	dst = AppendVarInt(dst, strLen)
	return append(dst, payload...)
}

// AppendPong appends the pong response echoing payload
func AppendPong(dst []byte, payload int64) []byte {
	dst = append(dst, PingRequestLength, PongResponseID)
	return binary.BigEndian.AppendUint64(dst, uint64(payload))
}

// AppendHandshake appends a handshake packet. Used by clients and tests.
func AppendHandshake(dst []byte, hs Handshake) []byte {
	body := AppendVarInt(nil, HandshakeID)
	body = AppendVarInt(body, hs.Protocol)
	body = AppendVarInt(body, int32(len(hs.Address)))
	body = append(body, hs.Address...)
	body = binary.BigEndian.AppendUint16(body, hs.Port)
	body = append(body, byte(hs.Intent))

	dst = AppendVarInt(dst, int32(len(body)))
	return append(dst, body...)
}

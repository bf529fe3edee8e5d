package protocol

import (
	"encoding/binary"
	"io"

	"github.com/rotisserie/eris"
)

// MaxStringPacketLength caps the size of string packets we're willing to read as a client.
const MaxStringPacketLength = 1 << 20

// AppendStatusRequest appends the empty status request packet
func AppendStatusRequest(dst []byte) []byte {
	return append(dst, 1, StatusRequestID)
}

// AppendPingRequest appends a ping request carrying payload
func AppendPingRequest(dst []byte, payload int64) []byte {
	dst = append(dst, PingRequestLength, PingRequestID)
	return binary.BigEndian.AppendUint64(dst, uint64(payload))
}

// AppendLoginStart appends a login start packet with the given username and no trailing fields
func AppendLoginStart(dst []byte, username string) []byte {
	body := AppendVarInt(nil, LoginStartID)
	body = AppendVarInt(body, int32(len(username)))
	body = append(body, username...)

	dst = AppendVarInt(dst, int32(len(body)))
	return append(dst, body...)
}

// ReadStringPacket reads a packet written by AppendStringPacket and returns its id and payload
func ReadStringPacket(r Reader) (int32, string, error) {
	length, err := ReadLength(r)
	if err != nil {
		return 0, "", eris.Wrap(err, "failed to read packet length")
	}

	if length > MaxStringPacketLength {
		return 0, "", eris.Errorf("packet too large: %d bytes", length)
	}

	id, err := ReadVarInt(r)
	if err != nil {
		return 0, "", eris.Wrap(err, "failed to read packet id")
	}

	strLen, err := ReadVarInt(r)
	if err != nil {
		return 0, "", eris.Wrap(err, "failed to read string length")
	}

	if strLen < 0 || int(strLen) > length {
		return 0, "", eris.Errorf("string length %d exceeds packet length %d", strLen, length)
	}

	payload := make([]byte, strLen)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, "", eris.Wrap(err, "failed to read string")
	}

	return id, string(payload), nil
}

// ReadPong reads a pong response and returns its payload
func ReadPong(r Reader) (int64, error) {
	var buf [10]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, eris.Wrap(err, "failed to read pong")
	}

	if buf[0] != PingRequestLength || buf[1] != PongResponseID {
		return 0, eris.Wrapf(ErrUnknownPacketID, "unexpected pong header % x", buf[:2])
	}

	return int64(binary.BigEndian.Uint64(buf[2:])), nil
}

package txpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutHeaderThenParseHeaderRoundTrips(t *testing.T) {
	h := Header{Size: 0x1234, Type: MsgData, To: 7, From: 3}

	var buf [HeaderSize]byte
	PutHeader(buf[:], h, ByteOrder(false))
	assert.Equal(t, h, ParseHeader(buf[:], ByteOrder(false)))

	PutHeader(buf[:], h, ByteOrder(true))
	assert.Equal(t, h, ParseHeader(buf[:], ByteOrder(true)))
}

func TestByteOrderPicksLittleEndianByDefault(t *testing.T) {
	h := Header{Size: 1, Type: MsgReset}
	var buf [HeaderSize]byte
	PutHeader(buf[:], h, ByteOrder(false))
	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(0), buf[1])
}

func TestIsNegotiationOnlyForReservedChannel(t *testing.T) {
	assert.True(t, Header{To: 0, From: 0}.IsNegotiation())
	assert.False(t, Header{To: 1, From: 0}.IsNegotiation())
	assert.False(t, Header{To: 0, From: 1}.IsNegotiation())
}

func TestMsgTypeStringsCoverEveryKind(t *testing.T) {
	for _, tc := range []struct {
		in   MsgType
		want string
	}{
		{MsgReset, "RESET"},
		{MsgSetEndianness, "SET_ENDIANNESS"},
		{MsgSetCRC, "SET_CRC"},
		{MsgDisconnect, "DISCONNECT"},
		{MsgData, "DATA"},
	} {
		assert.Equal(t, tc.want, tc.in.String())
	}
	assert.Contains(t, MsgType(200).String(), "MsgType")
}

package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nal(bytes ...byte) []byte { return bytes }

func TestToAnnexB_SingleNAL(t *testing.T) {
	payload := nal(0x67, 0x01, 0x02, 0x03)
	avcc := append([]byte{0, 0, 0, byte(len(payload))}, payload...)

	out, err := ToAnnexB(avcc, 4)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, payload...), out)
}

func TestToAnnexB_MultipleNALs(t *testing.T) {
	a := nal(0x67, 0xAA)
	b := nal(0x68, 0xBB, 0xCC)

	avcc := append([]byte{0, 0, 0, byte(len(a))}, a...)
	avcc = append(avcc, append([]byte{0, 0, 0, byte(len(b))}, b...)...)

	out, err := ToAnnexB(avcc, 4)
	require.NoError(t, err)

	expected := append([]byte{0, 0, 0, 1}, a...)
	expected = append(expected, append([]byte{0, 0, 0, 1}, b...)...)
	assert.Equal(t, expected, out)
}

func TestToAnnexB_TruncatedLengthErrors(t *testing.T) {
	_, err := ToAnnexB([]byte{0, 0, 0}, 4)
	assert.Error(t, err)
}

func TestToAnnexB_OverrunLengthErrors(t *testing.T) {
	_, err := ToAnnexB([]byte{0, 0, 0, 10, 1, 2}, 4)
	assert.Error(t, err)
}

func TestToAVCC_RoundTripsWithToAnnexB(t *testing.T) {
	a := nal(0x67, 0x01, 0x02)
	b := nal(0x41, 0x9A)

	avcc := append([]byte{0, 0, 0, byte(len(a))}, a...)
	avcc = append(avcc, append([]byte{0, 0, 0, byte(len(b))}, b...)...)

	annexB, err := ToAnnexB(avcc, 4)
	require.NoError(t, err)

	roundTripped, err := ToAVCC(annexB, 4)
	require.NoError(t, err)
	assert.Equal(t, avcc, roundTripped)
}

func TestToAVCC_AcceptsThreeByteStartCodes(t *testing.T) {
	annexB := []byte{0, 0, 1, 0x67, 0xAA, 0, 0, 1, 0x68, 0xBB}

	out, err := ToAVCC(annexB, 4)
	require.NoError(t, err)

	expected := append([]byte{0, 0, 0, 2}, 0x67, 0xAA)
	expected = append(expected, 0, 0, 0, 2, 0x68, 0xBB)
	assert.Equal(t, expected, out)
}

func TestToAVCC_LengthFieldOverflowErrors(t *testing.T) {
	big := make([]byte, 300)
	annexB := append([]byte{0, 0, 0, 1}, big...)

	_, err := ToAVCC(annexB, 1)
	assert.Error(t, err)
}

func TestInvalidLengthSize(t *testing.T) {
	_, err := ToAnnexB([]byte{1, 2, 3}, 3)
	assert.Error(t, err)

	_, err = ToAVCC([]byte{0, 0, 0, 1}, 3)
	assert.Error(t, err)
}

func TestIsAnnexB(t *testing.T) {
	assert.True(t, IsAnnexB([]byte{0, 0, 0, 1, 0x67}))
	assert.True(t, IsAnnexB([]byte{0, 0, 1, 0x67}))
	assert.False(t, IsAnnexB([]byte{0, 0, 0, 4, 0x67, 0x01, 0x02, 0x03}))
	assert.False(t, IsAnnexB([]byte{0x67}))
}

func TestToAnnexB_IsIdempotent(t *testing.T) {
	payload := nal(0x67, 0x01, 0x02, 0x03)
	avcc := append([]byte{0, 0, 0, byte(len(payload))}, payload...)

	once, err := ToAnnexB(avcc, 4)
	require.NoError(t, err)

	twice, err := ToAnnexB(once, 4)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestToAVCC_IsIdempotent(t *testing.T) {
	annexB := []byte{0, 0, 0, 1, 0x67, 0xAA, 0, 0, 0, 1, 0x68, 0xBB}

	once, err := ToAVCC(annexB, 4)
	require.NoError(t, err)

	twice, err := ToAVCC(once, 4)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestAVCLengthSize(t *testing.T) {
	assert.Equal(t, 4, AVCLengthSize(nil))
	assert.Equal(t, 4, AVCLengthSize([]byte{0, 1, 2}))

	extradata := []byte{1, 0x64, 0, 0x1f, 0xFF /* lengthSizeMinusOne=3 -> size 4 */}
	assert.Equal(t, 4, AVCLengthSize(extradata))

	extradata[4] = 0xFD // lengthSizeMinusOne=1 -> size 2
	assert.Equal(t, 2, AVCLengthSize(extradata))
}

func TestHEVCLengthSize(t *testing.T) {
	assert.Equal(t, 4, HEVCLengthSize(nil))

	extradata := make([]byte, 22)
	extradata[21] = 0x03 // lengthSizeMinusOne=3 -> size 4
	assert.Equal(t, 4, HEVCLengthSize(extradata))

	extradata[21] = 0x01 // lengthSizeMinusOne=1 -> size 2
	assert.Equal(t, 2, HEVCLengthSize(extradata))
}

func avcExtradata(sps, pps []byte) []byte {
	extradata := []byte{1, 0x64, 0, 0x1f, 0xFF, byte(0xE0 | 1)}
	extradata = append(extradata, byte(len(sps)>>8), byte(len(sps)))
	extradata = append(extradata, sps...)
	extradata = append(extradata, 1)
	extradata = append(extradata, byte(len(pps)>>8), byte(len(pps)))
	extradata = append(extradata, pps...)
	return extradata
}

func TestToAnnexBKeyframe_PrependsParameterSets(t *testing.T) {
	sps := nal(0x67, 0x64, 0x00, 0x1f)
	pps := nal(0x68, 0xEB)
	extradata := avcExtradata(sps, pps)

	idr := nal(0x65, 0xAA, 0xBB)
	avcc := append([]byte{0, 0, 0, byte(len(idr))}, idr...)

	out, err := ToAnnexBKeyframe(avcc, 4, extradata, false)
	require.NoError(t, err)

	expected := append([]byte{0, 0, 0, 1}, sps...)
	expected = append(expected, append([]byte{0, 0, 0, 1}, pps...)...)
	expected = append(expected, append([]byte{0, 0, 0, 1}, idr...)...)
	assert.Equal(t, expected, out)
}

func TestToAnnexBKeyframe_NoExtradataReturnsPlainConversion(t *testing.T) {
	idr := nal(0x65, 0xAA)
	avcc := append([]byte{0, 0, 0, byte(len(idr))}, idr...)

	out, err := ToAnnexBKeyframe(avcc, 4, nil, false)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, idr...), out)
}

package structedit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStruct() *Struct {
	return &Struct{
		Name: "S",
		Fields: []Field{
			{Name: "name", Type: TypeChar, ArrayLen: 8},
			{Name: "val", Type: TypeLong},
		},
	}
}

func TestOffsetAndSize(t *testing.T) {
	r := NewRegistry()
	r.Define(sampleStruct())

	sz, err := r.Size("S")
	require.NoError(t, err)
	assert.Equal(t, 12, sz)

	off, f, err := r.Offset("S", "val")
	require.NoError(t, err)
	assert.Equal(t, 8, off)
	assert.Equal(t, TypeLong, f.Type)
}

func TestWriteIntAndBytes(t *testing.T) {
	r := NewRegistry()
	r.Define(sampleStruct())
	mem := &Memory{Base: 0x80000000, Bytes: make([]byte, 12)}

	off, f, err := r.Offset("S", "val")
	require.NoError(t, err)
	require.NoError(t, mem.WriteInt(mem.Base+uint32(off), f.Type.size(), 0x12345678))

	_, raw, err := r.EvalValue(`strcpy("hi")`)
	require.NoError(t, err)
	require.NoError(t, mem.WriteBytes(mem.Base, raw))

	assert.Equal(t, byte('h'), mem.Bytes[0])
	assert.Equal(t, byte('i'), mem.Bytes[1])
	assert.Equal(t, byte(0), mem.Bytes[2])
	assert.Equal(t, uint32(0x12345678), leUint32(mem.Bytes[8:12]))
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestEvalValueHelpers(t *testing.T) {
	r := NewRegistry()
	r.Define(sampleStruct())

	sz, _, err := r.EvalValue("sizeof(S)")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), sz)

	ip, _, err := r.EvalValue("i2l(10.0.0.1)")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0A000001), ip)

	_, mac, err := r.EvalValue("e2b(02:00:00:00:00:04)")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x04}, mac)
}

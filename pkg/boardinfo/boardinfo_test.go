package boardinfo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() []Record {
	return []Record{
		{VarName: "ENETADDR", Size: 6, Default: "02:00:00:00:00:01", Prompt: "MAC address"},
		{VarName: "SERIALNO", Size: 8, Default: "0", Prompt: "Serial number"},
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// CRC-16/XMODEM check value for "123456789" is 0x31C3.
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
}

func TestEnsureProvisionedPromptsForEmptyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardinfo.bin")
	s, err := Open(path, testSchema())
	require.NoError(t, err)

	prompted := []string{}
	err = s.EnsureProvisioned(func(prompt, def string) (string, error) {
		prompted = append(prompted, prompt)
		return def, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"MAC address", "Serial number"}, prompted)

	v, ok := s.Get("ENETADDR")
	assert.True(t, ok)
	assert.Equal(t, "02:00:00:00:00:01", v)
}

func TestReopenVerifiesCRC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardinfo.bin")
	s, err := Open(path, testSchema())
	require.NoError(t, err)
	require.NoError(t, s.Set("SERIALNO", "12345678"))

	reopened, err := Open(path, testSchema())
	require.NoError(t, err)
	v, ok := reopened.Get("SERIALNO")
	assert.True(t, ok)
	assert.Equal(t, "12345678", v)
}

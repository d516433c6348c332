package probe

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func TestParseVendorTableFormats(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		mac    string
		vendor string
	}{
		{"arp-scan", "# comment\n001132\tSynology Incorporated\n", "00:11:32:aa:bb:cc", "Synology Incorporated"},
		{"nmap", "B827EB Raspberry Pi Foundation\n", "b8:27:eb:01:02:03", "Raspberry Pi Foundation"},
		{"ieee", "3C-D9-2B   (hex)\t\tHewlett Packard\n3CD92B     (base 16)\t\tHewlett Packard\n", "3c:d9:2b:00:00:01", "Hewlett Packard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseVendorTable(strings.NewReader(tt.input))
			require.NoError(t, err)
			vendor, ok := table.Lookup(mustMAC(t, tt.mac))
			require.True(t, ok)
			assert.Equal(t, tt.vendor, vendor)
		})
	}
}

func TestVendorTableAbsent(t *testing.T) {
	var nilTable *VendorTable
	_, ok := nilTable.Lookup(mustMAC(t, "00:11:32:aa:bb:cc"))
	assert.False(t, ok)

	_, ok = (&VendorTable{}).Lookup(mustMAC(t, "00:11:32:aa:bb:cc"))
	assert.False(t, ok)

	table := NewVendorTable(map[string]string{"00:11:32": "Synology"})
	_, ok = table.Lookup(mustMAC(t, "00:11:33:aa:bb:cc"))
	assert.False(t, ok)
	_, ok = table.Lookup(nil)
	assert.False(t, ok)
}

func TestOpenVendorTableFailsOpen(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	good := filepath.Join(dir, "oui.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	require.NoError(t, os.WriteFile(good, []byte("001132\tSynology\n"), 0o600))

	table := OpenVendorTable(filepath.Join(dir, "missing"), empty, good)
	assert.Equal(t, 1, table.Len())

	none := OpenVendorTable(filepath.Join(dir, "missing"))
	require.NotNil(t, none)
	assert.Equal(t, 0, none.Len())
}

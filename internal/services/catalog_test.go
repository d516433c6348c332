package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	require.Len(t, catalog, 32)

	ports := map[int]bool{}
	for _, d := range catalog {
		require.NoError(t, d.Validate(), d.Name)
		assert.Equal(t, "tcp", d.Protocol)
		assert.False(t, ports[d.Port], "duplicate port %d", d.Port)
		ports[d.Port] = true
	}
	for _, p := range []int{22, 80, 443, 445, 3389, 5900, 27017} {
		assert.True(t, ports[p], "port %d missing", p)
	}

	catalog[0].Name = "changed"
	assert.Equal(t, "HTTP", DefaultCatalog()[0].Name, "each call returns a fresh copy")
}

func TestMergeCatalog(t *testing.T) {
	base := []Definition{
		tcp("HTTP", 80, "Web interface", HintHTTP),
		tcp("SFTP/SSH", 22, "Secure Shell/SFTP", HintSSH),
	}

	merged := MergeCatalog(base, []Definition{
		{Name: "http", Port: 80, Description: "Router admin", Hint: HintHTTP},
		{Name: "Home Assistant", Port: 8123, Hint: HintHTTP},
		{Name: "Admin", Port: 22, Hint: HintSSH},
	})

	require.Len(t, merged, 4)
	assert.Equal(t, "Router admin", merged[0].Description, "same port and name replaces in place")
	assert.Equal(t, "tcp", merged[0].Protocol)
	assert.Equal(t, "SFTP/SSH", merged[1].Name, "same port, different name is kept")
	assert.Equal(t, "Home Assistant", merged[2].Name)
	assert.Equal(t, "Admin", merged[3].Name)

	assert.Equal(t, "Web interface", base[0].Description, "base is not modified")
	assert.Equal(t, base, MergeCatalog(base, nil))
}

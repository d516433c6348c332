package probe

import (
	"bufio"
	"encoding/hex"
	"io"
	"net"
	"os"
	"strings"

	"github.com/anstrom/netscope/internal/logging"
)

// DefaultVendorTablePaths are the usual locations of the IEEE OUI registry
// shipped by arp-scan, nmap and ieee-data.
var DefaultVendorTablePaths = []string{
	"/usr/share/arp-scan/ieee-oui.txt",
	"/usr/share/nmap/nmap-mac-prefixes",
	"/usr/share/ieee-data/oui.txt",
	"/var/lib/ieee-data/oui.txt",
}

// VendorTable maps the first three octets of a MAC address to the
// manufacturer registered for them. A nil table is valid and empty.
type VendorTable struct {
	vendors map[string]string
}

// NewVendorTable builds a table from prefix to vendor pairs. Prefixes may use
// any of the separators accepted in the registry files.
func NewVendorTable(entries map[string]string) *VendorTable {
	t := &VendorTable{vendors: make(map[string]string, len(entries))}
	for prefix, vendor := range entries {
		if key, ok := normalizePrefix(prefix); ok {
			t.vendors[key] = vendor
		}
	}
	return t
}

// Lookup returns the vendor for mac.
func (t *VendorTable) Lookup(mac net.HardwareAddr) (string, bool) {
	if t == nil || len(t.vendors) == 0 || len(mac) < 3 {
		return "", false
	}
	vendor, ok := t.vendors[strings.ToUpper(hex.EncodeToString(mac[:3]))]
	return vendor, ok
}

// Len returns the number of registered prefixes.
func (t *VendorTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.vendors)
}

// LoadVendorTable reads a registry file from path.
func LoadVendorTable(path string) (*VendorTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseVendorTable(f)
}

// OpenVendorTable loads the first readable, non-empty table among paths, or
// DefaultVendorTablePaths when none are given. It never fails: without a
// table every lookup is absent.
func OpenVendorTable(paths ...string) *VendorTable {
	if len(paths) == 0 {
		paths = DefaultVendorTablePaths
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		table, err := LoadVendorTable(path)
		if err != nil || table.Len() == 0 {
			continue
		}
		logging.Debug("Loaded vendor table", "path", path, "prefixes", table.Len())
		return table
	}
	logging.Debug("No vendor table found, vendor lookups disabled")
	return &VendorTable{}
}

// ParseVendorTable accepts the arp-scan (`001122<TAB>Vendor`), nmap
// (`001122 Vendor`) and IEEE (`00-11-22   (hex)   Vendor`) formats.
// Unrecognized lines are skipped.
func ParseVendorTable(r io.Reader) (*VendorTable, error) {
	t := &VendorTable{vendors: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var prefix, vendor string
		if before, after, found := strings.Cut(line, "(hex)"); found {
			prefix, vendor = strings.TrimSpace(before), strings.TrimSpace(after)
		} else {
			idx := strings.IndexAny(line, " \t")
			if idx < 0 {
				continue
			}
			prefix, vendor = line[:idx], strings.TrimSpace(line[idx:])
			vendor = strings.TrimSpace(strings.TrimPrefix(vendor, "(base 16)"))
		}

		key, ok := normalizePrefix(prefix)
		if !ok || vendor == "" {
			continue
		}
		if _, exists := t.vendors[key]; !exists {
			t.vendors[key] = vendor
		}
	}
	return t, scanner.Err()
}

func normalizePrefix(prefix string) (string, bool) {
	cleaned := strings.NewReplacer("-", "", ":", "", ".", "").Replace(prefix)
	if len(cleaned) != 6 {
		return "", false
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return "", false
	}
	return strings.ToUpper(cleaned), true
}

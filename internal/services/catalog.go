// Package services checks discovered hosts for well-known TCP services and
// turns open ones into access actions and device type hints.
package services

import (
	"fmt"
	"strings"

	"github.com/anstrom/netscope/internal/errors"
)

// Access hints understood by ActionFor.
const (
	HintHTTP  = "http"
	HintHTTPS = "https"
	HintSSH   = "ssh"
	HintFTP   = "ftp"
	HintSMB   = "smb"
	HintRDP   = "rdp"
	HintVNC   = "vnc"
)

// Definition is a service to look for.
type Definition struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Port        int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	Protocol    string `json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp"`
	Hint        string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate reports malformed definitions.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewConfigFieldError(errors.CodeValidation, "service name is empty", "services.name", d.Port)
	}
	if d.Port < 1 || d.Port > 65535 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("service %s has port out of range", d.Name), "services.port", d.Port)
	}
	if d.Protocol != "" && d.Protocol != "tcp" {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("service %s uses unsupported protocol", d.Name), "services.protocol", d.Protocol)
	}
	return nil
}

func tcp(name string, port int, description, hint string) Definition {
	return Definition{Name: name, Port: port, Protocol: "tcp", Hint: hint, Description: description}
}

// DefaultCatalog returns the built-in list of common LAN services.
func DefaultCatalog() []Definition {
	return []Definition{
		tcp("HTTP", 80, "Web interface", HintHTTP),
		tcp("HTTPS", 443, "Secure web interface", HintHTTPS),
		tcp("HTTP Alt", 8080, "Alternative HTTP port", HintHTTP),
		tcp("HTTPS Alt", 8443, "Alternative HTTPS port", HintHTTPS),
		tcp("FTP", 21, "File Transfer Protocol", HintFTP),
		tcp("SFTP/SSH", 22, "Secure Shell/SFTP", HintSSH),
		tcp("FTPS", 990, "FTP over SSL", HintFTP),
		tcp("FTP Alt", 2221, "Alternative FTP port", HintFTP),
		tcp("SFTP Alt", 2222, "Alternative SFTP/SSH port", HintSSH),
		tcp("SMB/CIFS", 445, "File sharing protocol", HintSMB),
		tcp("NetBIOS", 139, "NetBIOS Session Service", HintSMB),
		tcp("Telnet", 23, "Unencrypted remote access", ""),
		tcp("RDP", 3389, "Remote Desktop Protocol", HintRDP),
		tcp("VNC", 5900, "Virtual Network Computing", HintVNC),
		tcp("SMTP", 25, "Mail service", ""),
		tcp("POP3", 110, "Mail retrieval", ""),
		tcp("IMAP", 143, "Mail access", ""),
		tcp("SMTPS", 465, "Secure SMTP", ""),
		tcp("IMAPS", 993, "Secure IMAP", ""),
		tcp("POP3S", 995, "Secure POP3", ""),
		tcp("ADB", 5555, "Android Debug Bridge", ""),
		tcp("Mobile HTTP", 8000, "Mobile/development server", HintHTTP),
		tcp("Mobile HTTPS", 8001, "Mobile/development HTTPS", HintHTTPS),
		tcp("Node.js Dev", 3000, "Node.js development server", HintHTTP),
		tcp("React Dev", 3001, "React development server", HintHTTP),
		tcp("Flask Dev", 5000, "Flask development server", HintHTTP),
		tcp("MQTT", 1883, "MQTT messaging protocol", ""),
		tcp("Secure MQTT", 8883, "Secure MQTT (MQTTS)", ""),
		tcp("MySQL", 3306, "MySQL database", ""),
		tcp("PostgreSQL", 5432, "PostgreSQL database", ""),
		tcp("MongoDB", 27017, "MongoDB database", ""),
		tcp("Redis", 6379, "Redis cache", ""),
	}
}

// MergeCatalog overlays custom definitions on base. A custom definition with
// the same port and name as a base one replaces it in place; others are
// appended in order. base is not modified.
func MergeCatalog(base, custom []Definition) []Definition {
	out := make([]Definition, len(base), len(base)+len(custom))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, d := range out {
		index[catalogKey(d)] = i
	}
	for _, d := range custom {
		if d.Protocol == "" {
			d.Protocol = "tcp"
		}
		if i, ok := index[catalogKey(d)]; ok {
			out[i] = d
			continue
		}
		index[catalogKey(d)] = len(out)
		out = append(out, d)
	}
	return out
}

func catalogKey(d Definition) string {
	return fmt.Sprintf("%d/%s", d.Port, strings.ToLower(strings.TrimSpace(d.Name)))
}

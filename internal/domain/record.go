package domain

import (
	"net/netip"
	"sort"
	"strconv"

	"github.com/MrSnakeDoc/toposync/internal/utils"
)

const (
	// EmptyServerName replaces an empty SNI; "" is never a key component.
	EmptyServerName = "empty"
	// DefaultServicePort is used when "sp" is not a valid port number.
	DefaultServicePort = 80
)

// DefaultServiceIP is used when "si" is not a valid IP address.
var DefaultServiceIP = netip.MustParseAddr("127.0.0.1")

// ServiceRecord is a persisted, normalized ServiceElement.
//
// The composite key is the whole struct: no two stored records share
// (ServerName, ServiceIP, ServicePort, EndpointID).
type ServiceRecord struct {
	ServerName  string `json:"sni"`
	ServiceIP   string `json:"si"`
	ServicePort int    `json:"sp"`
	EndpointID  string `json:"endpoint_id"`
}

// NormalizeElement applies the best effort policy: a malformed field
// falls back to its default instead of dropping the element.
func NormalizeElement(endpointID string, el ServiceElement) ServiceRecord {
	name := el.SNI.String()
	if name == "" {
		name = EmptyServerName
	}

	return ServiceRecord{
		ServerName:  name,
		ServiceIP:   utils.ParseIPOr(el.ServiceIP.String(), DefaultServiceIP).String(),
		ServicePort: parsePort(el.ServicePort.String()),
		EndpointID:  endpointID,
	}
}

func parsePort(s string) int {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return DefaultServicePort
	}
	return int(p)
}

// SortRecords orders records by endpoint, then server name, IP and port.
func SortRecords(records []ServiceRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.EndpointID != b.EndpointID {
			return a.EndpointID < b.EndpointID
		}
		if a.ServerName != b.ServerName {
			return a.ServerName < b.ServerName
		}
		if a.ServiceIP != b.ServiceIP {
			return a.ServiceIP < b.ServiceIP
		}
		return a.ServicePort < b.ServicePort
	})
}

package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ravendevteam/betanet-go/pkg/transport"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeResponderTXT creates TXT records for a responder.
func EncodeResponderTXT(info *ResponderInfo) TXTRecordMap {
	return TXTRecordMap{
		TXTKeyProtocol: info.Protocol,
		TXTKeyTunnel:   info.Tunnel.String(),
	}
}

// DecodeResponderTXT parses a responder's TXT records. The protocol is
// required; a missing tunnel key means TLS.
func DecodeResponderTXT(txt TXTRecordMap) (*ResponderInfo, error) {
	proto, ok := txt[TXTKeyProtocol]
	if !ok || proto == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProtocol)
	}

	tunnel, err := transport.ParseTunnelMode(txt[TXTKeyTunnel])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTRecord, TXTKeyTunnel, err)
	}

	return &ResponderInfo{Protocol: proto, Tunnel: tunnel}, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

// Package iputil converts between the textual, 4-byte and integer-key
// representations of a peer address. The mesh is IPv4-only.
package iputil

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AddressSize is the length of a canonical peer address in bytes.
const AddressSize = 4

// Parse resolves text (a dotted quad or a hostname) to a 4-byte address.
func Parse(text string) ([]byte, error) {
	if ip := net.ParseIP(text); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("iputil: %s is not an IPv4 address", text)
	}

	ips, err := net.LookupIP(text)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("iputil: no IPv4 address for %s", text)
}

// AsUint32 packs a 4-byte address into the integer form used as a map key.
func AsUint32(address []byte) uint32 {
	if len(address) != AddressSize {
		return 0
	}
	return binary.BigEndian.Uint32(address)
}

func FromUint32(value uint32) []byte {
	address := make([]byte, AddressSize)
	binary.BigEndian.PutUint32(address, value)
	return address
}

func String(address []byte) string {
	if len(address) != AddressSize {
		return fmt.Sprintf("<invalid address % x>", address)
	}
	return net.IP(address).String()
}

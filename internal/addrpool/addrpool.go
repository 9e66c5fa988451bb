// Package addrpool computes the assignable host addresses of an IPv4 block and
// picks free addresses from it.
//
// The pool keeps no state: the set of used addresses is supplied by the caller
// on every allocation.
package addrpool

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

var (
	// ErrInvalidCIDR is returned when a block is not of the form a.b.c.d/n
	ErrInvalidCIDR = errors.New("invalid CIDR format")

	// ErrAddressOverflow is returned when the block runs past 255.255.255.255
	ErrAddressOverflow = errors.New("IP address overflow")

	// ErrBlockTooLarge is returned by Enumerate for blocks it refuses to materialize
	ErrBlockTooLarge = errors.New("address block too large to enumerate")

	// ErrPoolExhausted is returned when every assignable address is in use
	ErrPoolExhausted = errors.New("no available IP addresses")
)

// maxEnumerate bounds the size of the slice returned by Enumerate (a /8).
const maxEnumerate = 1 << 24

type block struct {
	base   uint32
	size   uint64
	prefix int
}

func parseBlock(cidr string) (block, error) {
	baseStr, prefixStr, ok := strings.Cut(cidr, "/")
	if !ok {
		return block{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, cidr)
	}
	prefix, err := strconv.Atoi(prefixStr)
	if err != nil || prefix < 0 || prefix > 32 {
		return block{}, fmt.Errorf("%w: bad prefix length in %q", ErrInvalidCIDR, cidr)
	}
	addr, err := netip.ParseAddr(baseStr)
	if err != nil || !addr.Is4() {
		return block{}, fmt.Errorf("%w: bad base address in %q", ErrInvalidCIDR, cidr)
	}

	size := uint64(1) << (32 - prefix)
	base := ipToInt(addr)
	if uint64(base)+size-1 > math.MaxUint32 {
		return block{}, fmt.Errorf("%w: %s", ErrAddressOverflow, cidr)
	}
	return block{base: base, size: size, prefix: prefix}, nil
}

// hosts yields the enumerable addresses of the block in ascending order.
// Network and broadcast addresses are skipped when the block holds more than two addresses.
func (b block) hosts() iter.Seq[netip.Addr] {
	first, last := uint64(0), b.size-1
	if b.size > 2 {
		first, last = 1, b.size-2
	}
	return func(yield func(netip.Addr) bool) {
		for off := first; off <= last; off++ {
			if !yield(intToIP(b.base + uint32(off))) {
				return
			}
		}
	}
}

func (b block) contains(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	v := uint64(ipToInt(addr))
	lo, hi := uint64(b.base), uint64(b.base)+b.size-1
	if b.size > 2 {
		lo, hi = lo+1, hi-1
	}
	return v >= lo && v <= hi
}

// Enumerate returns the assignable addresses of cidr in ascending order and its prefix length.
func Enumerate(cidr string) ([]string, int, error) {
	b, err := parseBlock(cidr)
	if err != nil {
		return nil, 0, err
	}
	if b.size > maxEnumerate {
		return nil, 0, fmt.Errorf("%w: %s", ErrBlockTooLarge, cidr)
	}

	ips := make([]string, 0, b.size)
	for addr := range b.hosts() {
		ips = append(ips, addr.String())
	}
	return ips, b.prefix, nil
}

// Prefix returns the prefix length of cidr.
func Prefix(cidr string) (int, error) {
	b, err := parseBlock(cidr)
	if err != nil {
		return 0, err
	}
	return b.prefix, nil
}

// Allocate returns the lowest assignable address of cidr that is neither the
// gateway nor present in used. Unparsable entries in used are ignored.
func Allocate(cidr, gateway string, used []string) (string, error) {
	b, err := parseBlock(cidr)
	if err != nil {
		return "", err
	}
	taken, err := takenSet(gateway, used)
	if err != nil {
		return "", err
	}

	for addr := range b.hosts() {
		if _, ok := taken[addr]; !ok {
			return addr.String(), nil
		}
	}
	return "", ErrPoolExhausted
}

// Available reports whether addr can be assigned from cidr given the gateway and used addresses.
func Available(cidr, gateway, addr string, used []string) (bool, error) {
	b, err := parseBlock(cidr)
	if err != nil {
		return false, err
	}
	candidate, err := netip.ParseAddr(addr)
	if err != nil {
		return false, nil
	}
	if !b.contains(candidate) {
		return false, nil
	}
	taken, err := takenSet(gateway, used)
	if err != nil {
		return false, err
	}
	_, inUse := taken[candidate]
	return !inUse, nil
}

func takenSet(gateway string, used []string) (map[netip.Addr]struct{}, error) {
	taken := make(map[netip.Addr]struct{}, len(used)+1)
	if gateway != "" {
		gw, err := netip.ParseAddr(gateway)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway address %q: %w", gateway, err)
		}
		taken[gw] = struct{}{}
	}
	for _, ip := range used {
		addr, err := netip.ParseAddr(stripPrefix(ip))
		if err != nil {
			continue
		}
		taken[addr] = struct{}{}
	}
	return taken, nil
}

// stripPrefix drops a trailing "/n" so rows stored in CIDR form still count as used.
func stripPrefix(ip string) string {
	if i := strings.IndexByte(ip, '/'); i >= 0 {
		return ip[:i]
	}
	return ip
}

// IP conversion utilities
func ipToInt(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func intToIP(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

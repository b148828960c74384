package scanner

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// ExpandSubnet 把 CIDR 或单个 IPv4 地址展开为待扫描地址列表。
// /31、/32 以外的网段跳过网络地址和广播地址；超过 maxHosts 时报错。
func ExpandSubnet(subnet string, maxHosts int) ([]string, error) {
	subnet = strings.TrimSpace(subnet)
	if subnet == "" {
		return nil, fmt.Errorf("subnet is empty")
	}

	if !strings.Contains(subnet, "/") {
		ip := net.ParseIP(subnet)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid IPv4 address: %s", subnet)
		}
		return []string{ip.To4().String()}, nil
	}

	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", subnet, err)
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("only IPv4 subnets are supported: %s", subnet)
	}

	ones, bits := ipnet.Mask.Size()
	size := uint64(1) << uint(bits-ones)
	first, last := uint64(0), size-1
	if size > 2 {
		first, last = 1, size-2
	}
	count := last - first + 1
	if maxHosts > 0 && count > uint64(maxHosts) {
		return nil, fmt.Errorf("subnet %s has %d hosts, exceeds limit %d", subnet, count, maxHosts)
	}

	start := uint64(binary.BigEndian.Uint32(base))
	ips := make([]string, 0, count)
	for i := first; i <= last; i++ {
		b := make(net.IP, 4)
		binary.BigEndian.PutUint32(b, uint32(start+i))
		ips = append(ips, b.String())
	}
	return ips, nil
}

// Package addrmgr wraps the host's address control API (spec C3): add,
// delete, list, and find IP addresses on a given interface.
package addrmgr

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Record is one address entry as returned by List, carrying the
// interface index it is attached to and its raw address bytes.
type Record struct {
	IfIndex int
	IP      net.IP
	Prefix  int

	link netlink.Link
	addr netlink.Addr
}

// Manager performs address add/delete/list/find via netlink.
type Manager struct{}

// New returns a Manager. The Manager is unused when manage_ip is false.
func New() *Manager {
	return &Manager{}
}

// List enumerates all IPv4 address records across every link.
func (m *Manager) List() ([]Record, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}

	var records []Record
	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("listing addresses on %s: %w", link.Attrs().Name, err)
		}
		for _, a := range addrs {
			ones, _ := a.Mask.Size()
			records = append(records, Record{
				IfIndex: link.Attrs().Index,
				IP:      a.IP,
				Prefix:  ones,
				link:    link,
				addr:    a,
			})
		}
	}
	return records, nil
}

// Find walks List, skipping records not on ifIndex, and compares the
// record's address bytes to ip. Returns the first match, or nil if none.
func (m *Manager) Find(ifIndex int, ip net.IP) (*Record, error) {
	records, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := range records {
		r := &records[i]
		if r.IfIndex != ifIndex {
			continue
		}
		if addressEqual(r.IP, ip) {
			return r, nil
		}
	}
	return nil, nil
}

// addressEqual compares record and target address bytes directly (4
// bytes for IPv4, 16 for IPv6), per spec §4.3.
func addressEqual(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 != nil && b4 != nil {
		return a4.Equal(b4)
	}
	return a.Equal(b)
}

// Add adds an IPv4 address to the interface identified by ifIndex.
func (m *Manager) Add(ifIndex int, ip net.IP, prefixLen int) error {
	link, err := netlink.LinkByIndex(ifIndex)
	if err != nil {
		return fmt.Errorf("resolving link index %d: %w", ifIndex, err)
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(prefixLen, 32)}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("adding %s/%d to %s: %w", ip, prefixLen, link.Attrs().Name, err)
	}
	return nil
}

// Delete removes a specific address record previously returned by List
// or Find.
func (m *Manager) Delete(r *Record) error {
	if err := netlink.AddrDel(r.link, &r.addr); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", r.IP, r.link.Attrs().Name, err)
	}
	return nil
}

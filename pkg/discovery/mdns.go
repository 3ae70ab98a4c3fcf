package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/ravendevteam/betanet-go/pkg/handshake"
	"github.com/ravendevteam/betanet-go/pkg/session"
)

// MDNSAdvertiser advertises a responder using zeroconf.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates a new mDNS advertiser. An empty instance name
// is replaced with a generated one.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	if config.Instance == "" {
		config.Instance = GenerateInstanceName()
	}
	if err := ValidateInstanceName(config.Instance); err != nil {
		return nil, err
	}
	return &MDNSAdvertiser{config: config}, nil
}

// Instance returns the advertised instance name.
func (a *MDNSAdvertiser) Instance() string {
	return a.config.Instance
}

// Advertise registers the responder on port, replacing any earlier
// registration.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := TXTRecordsToStrings(EncodeResponderTXT(&ResponderInfo{
		Protocol: handshake.ProtocolName,
		Tunnel:   a.config.Tunnel,
	}))

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		a.config.Instance,
		ServiceType,
		Domain,
		port,
		txt,
		selectInterface(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register responder service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when nothing is advertised.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// selectInterface returns the named interface, or nil for all interfaces.
func selectInterface(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSBrowser finds responders using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	return &MDNSBrowser{
		config:  config,
		cancels: make(map[int]context.CancelFunc),
	}, nil
}

// Browse searches for responders speaking the local handshake protocol.
// Services are aggregated by instance name: addresses from multiple
// interfaces are combined into a single entry, which is emitted once.
// The channel is closed when ctx is done or Stop is called.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *ResponderService, error) {
	ctx, cancel := context.WithCancel(ctx)
	id := b.track(cancel)

	out := make(chan *ResponderService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		defer b.untrack(id)

		services := make(map[string]*ResponderService)
		agg := aggregator{services: services}

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := agg.add(entry)
				if svc == nil {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				agg.remove(entry)

			case <-ctx.Done():
				return
			}
		}
	}()

	opts := b.browserOptions()
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// Find browses until a responder named instance appears. Without a
// context deadline the browser's BrowseTimeout applies.
func (b *MDNSBrowser) Find(ctx context.Context, instance string) (*ResponderService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	found, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range found {
		if svc.InstanceName == instance {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, instance)
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

func (b *MDNSBrowser) track(cancel context.CancelFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.cancels[b.nextID] = cancel
	return b.nextID
}

func (b *MDNSBrowser) untrack(id int) {
	b.mu.Lock()
	cancel, ok := b.cancels[id]
	delete(b.cancels, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if ifaces := selectInterface(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return opts
}

// aggregator merges zeroconf entries into responder services by instance.
type aggregator struct {
	services map[string]*ResponderService
}

// add records entry and returns the service if it is new. Entries for
// other protocols or with malformed TXT records are dropped.
func (g aggregator) add(entry *zeroconf.ServiceEntry) *ResponderService {
	svc := entryToResponder(entry)
	if svc == nil || svc.Protocol != handshake.ProtocolName {
		return nil
	}

	if existing, found := g.services[svc.InstanceName]; found {
		existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
		return nil
	}
	g.services[svc.InstanceName] = svc
	return svc
}

// remove drops the entry's addresses, and the service once none remain.
func (g aggregator) remove(entry *zeroconf.ServiceEntry) {
	existing, found := g.services[entry.Instance]
	if !found {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, entry)
	if len(existing.Addresses) == 0 {
		delete(g.services, entry.Instance)
	}
}

// entryToResponder converts a zeroconf entry to a ResponderService.
func entryToResponder(entry *zeroconf.ServiceEntry) *ResponderService {
	info, err := DecodeResponderTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}

	return &ResponderService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    entryAddresses(entry),
		Protocol:     info.Protocol,
		Tunnel:       info.Tunnel,
	}
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses removes addresses from a zeroconf entry from the list.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, addr := range entryAddresses(entry) {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSAdvertiser can announce a session server.
var _ session.Advertiser = (*MDNSAdvertiser)(nil)

// Package cluster is the Cluster Layer (spec §4.G): a wire-exact
// 5-byte multicast announce record ('j', job count LE16, TCP port
// LE16), a split-horizon TCP forward overlay for relaying announces
// between subnets, and exponential-backoff reconnect. Grounded
// verbatim on RTags Server.cpp's handleMulticastData,
// connectMulticastForward, connectTime, and reconnectForwards
// (original_source/src/Server.cpp). Multicast group membership itself
// is delegated to golang.org/x/net/ipv4, replacing RTags'
// hand-rolled SocketClient multicast join.
package cluster

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// announceLen is the wire size of one announce record: 'j' + u16 jobs
// + u16 tcpPort, all little-endian.
const announceLen = 5

// Announce is one decoded multicast record.
type Announce struct {
	PeerIP  string
	Jobs    uint16
	TCPPort uint16
}

// Encode serializes jobs and tcpPort into the 5-byte wire record.
func Encode(jobs, tcpPort uint16) []byte {
	buf := make([]byte, announceLen)
	buf[0] = 'j'
	binary.LittleEndian.PutUint16(buf[1:3], jobs)
	binary.LittleEndian.PutUint16(buf[3:5], tcpPort)
	return buf
}

// Decode parses zero or more concatenated 5-byte announce records out
// of data, matching handleMulticastData's "while (size >= 5)" loop. It
// returns an error if trailing bytes don't form a complete record.
func Decode(data []byte) ([]Announce, error) {
	var out []Announce
	for len(data) >= announceLen {
		if data[0] != 'j' {
			return out, fmt.Errorf("cluster: unexpected header byte %#x", data[0])
		}
		out = append(out, Announce{
			Jobs:    binary.LittleEndian.Uint16(data[1:3]),
			TCPPort: binary.LittleEndian.Uint16(data[3:5]),
		})
		data = data[announceLen:]
	}
	if len(data) > 0 {
		return out, fmt.Errorf("cluster: %d trailing bytes after last announce record", len(data))
	}
	return out, nil
}

// SlotSource reports how many locally pending jobs this node can offer
// to peers (pending jobs less those it is running for peers), so the
// announce loop advertises a live number (spec §4.G).
type SlotSource interface {
	AnnounceCount() int
}

// Announcer periodically broadcasts this node's pending-job count over
// multicast, and listens for peers' announcements to decide when to
// pull remote work.
type Announcer struct {
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	group   *net.UDPAddr
	tcpPort uint16
	slots   SlotSource

	onAnnounce func(peerIP string, a Announce)
	forwards   *ForwardSet

	mu   sync.Mutex
	stop chan struct{}
}

// SetForwards wires fs so every announce this node sends or relays
// over multicast is also pushed out to configured TCP forward peers,
// bridging subnets multicast routing doesn't reach (spec §4.G).
func (a *Announcer) SetForwards(fs *ForwardSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forwards = fs
}

// NewAnnouncer joins groupAddr (e.g. "239.255.5.5:8765") on the default
// multicast interface and prepares to send/receive announce records.
// Loopback is always disabled (this node must not hear its own
// announcements) and ttl bounds how many router hops a datagram
// survives; ttl <= 0 leaves the platform default in place (spec §4.G:
// "loop disabled... TTL configurable").
func NewAnnouncer(groupAddr string, tcpPort uint16, ttl int, slots SlotSource, onAnnounce func(string, Announce)) (*Announcer, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: resolving multicast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port})
	if err != nil {
		return nil, fmt.Errorf("cluster: listening on multicast port: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: addr.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cluster: joining multicast group: %w", err)
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cluster: disabling multicast loopback: %w", err)
	}
	if ttl > 0 {
		if err := pc.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, fmt.Errorf("cluster: setting multicast ttl: %w", err)
		}
	}

	return &Announcer{
		conn:       conn,
		pc:         pc,
		group:      addr,
		tcpPort:    tcpPort,
		slots:      slots,
		onAnnounce: onAnnounce,
		stop:       make(chan struct{}),
	}, nil
}

// Run sends an announce every interval while jobs are pending, and
// dispatches received announces to onAnnounce, matching the
// Server::startNextJob multicast half and onMulticastReadyRead.
func (a *Announcer) Run(interval time.Duration) {
	go a.listen()
	go a.announceLoop(interval)
}

func (a *Announcer) announceLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			count := a.slots.AnnounceCount()
			if count <= 0 {
				continue
			}
			buf := Encode(uint16(count), a.tcpPort)
			a.conn.WriteToUDP(buf, a.group)
			if a.forwards != nil {
				a.forwards.Forward(buf, nil)
			}
		case <-a.stop:
			return
		}
	}
}

func (a *Announcer) listen() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		n, peer, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		announces, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		if a.forwards != nil {
			a.forwards.Forward(buf[:n], nil)
		}
		for _, ann := range announces {
			ann.PeerIP = peer.IP.String()
			if a.onAnnounce != nil {
				a.onAnnounce(ann.PeerIP, ann)
			}
		}
	}
}

// Close leaves the multicast group and stops Run's goroutines.
func (a *Announcer) Close() error {
	close(a.stop)
	a.pc.LeaveGroup(nil, &net.UDPAddr{IP: a.group.IP})
	return a.conn.Close()
}

// Forward is one split-horizon TCP relay target: a peer this node
// forwards its own (and others') multicast traffic to directly,
// bypassing multicast routing boundaries (spec §4.G, RTags
// mMulticastForwards).
type Forward struct {
	Host        string
	Port        uint16
	conn        net.Conn
	lastAttempt time.Time
	failures    int
}

// ForwardSet tracks the forwards this node maintains, with
// exponential-backoff reconnect matching RTags' connectTime formula.
type ForwardSet struct {
	mu       sync.Mutex
	forwards map[string]*Forward
	dial     func(host string, port uint16) (net.Conn, error)
}

func NewForwardSet() *ForwardSet {
	return &ForwardSet{
		forwards: map[string]*Forward{},
		dial: func(host string, port uint16) (net.Conn, error) {
			return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
		},
	}
}

func forwardKey(host string, port uint16) string { return fmt.Sprintf("%s:%d", host, port) }

// ConnectTime is RTags' connectTime(lastAttempt, failures):
// lastAttempt + 1000*2^(failures-1) ms, with zero failures meaning no
// wait at all.
func ConnectTime(lastAttempt time.Time, failures int) time.Time {
	if failures <= 0 {
		return lastAttempt
	}
	wait := time.Duration(1000) * time.Millisecond
	for i := 1; i < failures; i++ {
		wait *= 2
	}
	return lastAttempt.Add(wait)
}

// Add registers host:port as a forward target and attempts an initial
// connection.
func (fs *ForwardSet) Add(host string, port uint16) error {
	key := forwardKey(host, port)
	fs.mu.Lock()
	if _, ok := fs.forwards[key]; ok {
		fs.mu.Unlock()
		return nil
	}
	f := &Forward{Host: host, Port: port}
	fs.forwards[key] = f
	fs.mu.Unlock()
	return fs.connect(f)
}

func (fs *ForwardSet) connect(f *Forward) error {
	fs.mu.Lock()
	f.lastAttempt = time.Now()
	fs.mu.Unlock()

	conn, err := fs.dial(f.Host, f.Port)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err != nil {
		f.failures++
		return err
	}
	f.conn = conn
	f.failures = 0
	return nil
}

// Remove drops and closes the forward to host:port.
func (fs *ForwardSet) Remove(host string, port uint16) {
	key := forwardKey(host, port)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.forwards[key]; ok {
		if f.conn != nil {
			f.conn.Close()
		}
		delete(fs.forwards, key)
	}
}

// Reconnect retries every disconnected forward whose backoff window
// has elapsed, matching Server::reconnectForwards, and returns the
// duration until the next retry is due (zero if none are pending).
func (fs *ForwardSet) Reconnect() time.Duration {
	now := time.Now()
	var due []*Forward
	var least time.Duration = -1

	fs.mu.Lock()
	for _, f := range fs.forwards {
		if f.conn != nil {
			continue
		}
		at := ConnectTime(f.lastAttempt, f.failures)
		if !at.After(now) {
			due = append(due, f)
		} else if wait := at.Sub(now); least < 0 || wait < least {
			least = wait
		}
	}
	fs.mu.Unlock()

	for _, f := range due {
		fs.connect(f)
	}
	if least < 0 {
		return 0
	}
	return least
}

// Forward relays raw multicast payload data to every connected
// forward except excludeConn (split-horizon: never echo a message
// back to the peer that sent it), matching handleMulticastData's
// forwarding half.
func (fs *ForwardSet) Forward(data []byte, excludeConn net.Conn) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, f := range fs.forwards {
		if f.conn == nil || f.conn == excludeConn {
			continue
		}
		f.conn.Write(data)
	}
}

// Connected reports whether host:port currently has a live connection.
func (fs *ForwardSet) Connected(host string, port uint16) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.forwards[forwardKey(host, port)]
	return ok && f.conn != nil
}

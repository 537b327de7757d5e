// Package lp2pradio implements radio.Capability over libp2p-pubsub, for
// multi-process integration tests and demos where two host processes need
// to exchange beacon codes without real BLE hardware. Grounded on the
// teacher's lp2p/ctor.go host/pubsub construction.
package lp2pradio

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-datastore"
	dsync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p-connmgr"
	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	corepeer "github.com/libp2p/go-libp2p-core/peer"
	noise "github.com/libp2p/go-libp2p-noise"
	"github.com/libp2p/go-libp2p-peerstore/pstoreds"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2ptls "github.com/libp2p/go-libp2p-tls"

	"github.com/c19x/tracer/common/log"
	"github.com/c19x/tracer/internal/identifier"
	"github.com/c19x/tracer/internal/radio"
)

const (
	userAgent        = "c19x-tracer/0.0.0"
	lowWater         = 50
	highWater        = 200
	gracePeriod      = time.Minute
	writeProtocolTag = "/c19x/write/1.0.0"
)

func topicName(service identifier.ID) string {
	b := service.Bytes()
	return fmt.Sprintf("/c19x/beacon/%x", b)
}

// advertisement is the 24-byte wire payload gossiped on the topic: the
// 16-byte characteristic identifier followed by an 8-byte sequence counter
// used only to keep messages distinct for pubsub's message-ID
// deduplication.
type advertisement struct {
	characteristic identifier.ID
	seq            uint64
}

func encodeAdvertisement(a advertisement) []byte {
	b := make([]byte, 24)
	idBytes := a.characteristic.Bytes()
	copy(b[0:16], idBytes[:])
	binary.BigEndian.PutUint64(b[16:24], a.seq)
	return b
}

func decodeAdvertisement(b []byte) (advertisement, bool) {
	if len(b) != 24 {
		return advertisement{}, false
	}
	var idBytes [16]byte
	copy(idBytes[:], b[0:16])
	return advertisement{
		characteristic: identifier.FromBytes(idBytes),
		seq:            binary.BigEndian.Uint64(b[16:24]),
	}, true
}

// Host is a radio.Capability backed by a libp2p host and a gossipsub
// topic per advertised service. RSSI has no IP-transport analogue; it is
// synthesised as a constant, since relative signal strength cannot be
// recovered from a routed connection.
type Host struct {
	h      host.Host
	ps     *pubsub.PubSub
	log    log.Logger
	events chan radio.Event

	mu        sync.Mutex
	poweredOn bool
	seq       uint64

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	// lastSeen caches the most recent advertisement received from each
	// peer, so DiscoverServices/DiscoverCharacteristics can answer without
	// a further round trip.
	lastSeen map[corepeer.ID]advertisement

	onWrite func(peer radio.PeerHandle, payload []byte)
}

// New constructs a libp2p host listening on listenAddr (empty for no listen
// address at all) with a freshly generated identity, mirroring the
// teacher's ConstructHost.
func New(ctx context.Context, listenAddr string, l log.Logger) (*Host, error) {
	priv, _, err := crypto.GenerateEd25519Key(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("lp2pradio: generating identity: %w", err)
	}

	ds := dsync.MutexWrap(datastore.NewMapDatastore())
	pstore, err := pstoreds.NewPeerstore(ctx, ds, pstoreds.DefaultOpts())
	if err != nil {
		return nil, fmt.Errorf("lp2pradio: creating peerstore: %w", err)
	}

	cmgr := connmgr.NewConnManager(lowWater, highWater, gracePeriod)

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Peerstore(pstore),
		libp2p.ChainOptions(
			libp2p.Security(libp2ptls.ID, libp2ptls.New),
			libp2p.Security(noise.ID, noise.New),
		),
		libp2p.UserAgent(userAgent),
		libp2p.ConnectionManager(cmgr),
	}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("lp2pradio: constructing host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("lp2pradio: constructing pubsub: %w", err)
	}

	lr := &Host{
		h:         h,
		ps:        ps,
		log:       l,
		events:    make(chan radio.Event, 256),
		poweredOn: true,
		lastSeen:  make(map[corepeer.ID]advertisement),
	}
	h.SetStreamHandler(writeProtocolTag, lr.handleWriteStream)
	return lr, nil
}

// Close tears down the host and any active topic/subscription.
func (l *Host) Close() error {
	l.mu.Lock()
	if l.sub != nil {
		l.sub.Cancel()
	}
	if l.topic != nil {
		_ = l.topic.Close()
	}
	l.mu.Unlock()
	return l.h.Close()
}

// Events implements radio.Capability.
func (l *Host) Events() <-chan radio.Event { return l.events }

// PoweredOn implements radio.Capability.
func (l *Host) PoweredOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poweredOn
}

// Advertise implements radio.Capability: join the service's topic (if not
// already joined) and publish the current characteristic.
func (l *Host) Advertise(ctx context.Context, service, characteristic identifier.ID) error {
	if !l.PoweredOn() {
		return radio.ErrRadioOff
	}
	topic, err := l.joinTopic(service)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()
	payload := encodeAdvertisement(advertisement{characteristic: characteristic, seq: seq})
	return topic.Publish(ctx, payload)
}

func (l *Host) joinTopic(service identifier.ID) (*pubsub.Topic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.topic != nil {
		return l.topic, nil
	}
	topic, err := l.ps.Join(topicName(service))
	if err != nil {
		return nil, fmt.Errorf("lp2pradio: joining topic: %w", err)
	}
	l.topic = topic
	return topic, nil
}

// StopAdvertising implements radio.Capability.
func (l *Host) StopAdvertising(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.topic != nil {
		err := l.topic.Close()
		l.topic = nil
		return err
	}
	return nil
}

// StartScan implements radio.Capability: subscribe to service's topic and
// report each distinct remote peer as discovered.
func (l *Host) StartScan(ctx context.Context, service identifier.ID) error {
	if !l.PoweredOn() {
		return radio.ErrRadioOff
	}
	topic, err := l.joinTopic(service)
	if err != nil {
		return err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("lp2pradio: subscribing: %w", err)
	}
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()

	go l.readLoop(ctx, sub)
	return nil
}

func (l *Host) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	self := l.h.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		ad, ok := decodeAdvertisement(msg.Data)
		if !ok {
			continue
		}
		l.mu.Lock()
		_, known := l.lastSeen[msg.ReceivedFrom]
		l.lastSeen[msg.ReceivedFrom] = ad
		l.mu.Unlock()
		if !known {
			l.events <- radio.Event{Kind: radio.EventPeerDiscovered, Peer: radio.PeerHandle(msg.ReceivedFrom.String())}
		}
	}
}

// Connect implements radio.Capability: libp2p peers discovered via pubsub
// are already reachable through the mesh, so this only confirms liveness.
func (l *Host) Connect(_ context.Context, peer radio.PeerHandle, _ time.Duration) error {
	if _, err := corepeer.Decode(string(peer)); err != nil {
		l.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	l.events <- radio.Event{Kind: radio.EventPeerConnected, Peer: peer}
	return nil
}

// ReadRSSI implements radio.Capability with a constant placeholder value.
func (l *Host) ReadRSSI(_ context.Context, peer radio.PeerHandle) error {
	l.events <- radio.Event{Kind: radio.EventRSSIRead, Peer: peer, RSSI: -50}
	return nil
}

// DiscoverServices implements radio.Capability: the service is implied by
// the topic already joined to receive this peer's advertisement.
func (l *Host) DiscoverServices(_ context.Context, peer radio.PeerHandle) error {
	l.events <- radio.Event{Kind: radio.EventServicesDiscovered, Peer: peer}
	return nil
}

// DiscoverCharacteristics implements radio.Capability, answering from the
// most recent cached advertisement for peer.
func (l *Host) DiscoverCharacteristics(_ context.Context, peer radio.PeerHandle, _ identifier.ID) error {
	pid, err := corepeer.Decode(string(peer))
	if err != nil {
		l.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	l.mu.Lock()
	ad, ok := l.lastSeen[pid]
	l.mu.Unlock()
	if !ok {
		l.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Err: fmt.Errorf("lp2pradio: no cached advertisement for %s", peer)}
		return nil
	}
	l.events <- radio.Event{Kind: radio.EventCharacteristicsDiscovered, Peer: peer, Characteristic: ad.characteristic}
	return nil
}

// WriteValue implements radio.Capability: opens a direct stream to peer
// and writes payload, for receive-only peers self-reporting a Detection.
func (l *Host) WriteValue(ctx context.Context, peer radio.PeerHandle, payload []byte) error {
	pid, err := corepeer.Decode(string(peer))
	if err != nil {
		l.events <- radio.Event{Kind: radio.EventOperationFailed, Peer: peer, Invalid: true}
		return nil
	}
	s, err := l.h.NewStream(ctx, pid, writeProtocolTag)
	if err != nil {
		l.events <- radio.Event{Kind: radio.EventWriteComplete, Peer: peer, Err: err}
		return nil
	}
	defer s.Close()
	if _, err := s.Write(payload); err != nil {
		l.events <- radio.Event{Kind: radio.EventWriteComplete, Peer: peer, Err: err}
		return nil
	}
	l.events <- radio.Event{Kind: radio.EventWriteComplete, Peer: peer}
	return nil
}

// handleWriteStream reads one peer's self-reported detection payload off a
// direct stream and forwards it to OnWrite, mirroring the Transmitter's
// characteristic-write handler in the BLE capability.
func (l *Host) handleWriteStream(s network.Stream) {
	defer s.Close()
	payload := make([]byte, 4096)
	n, err := s.Read(payload)
	if err != nil && n == 0 {
		return
	}
	peer := radio.PeerHandle(s.Conn().RemotePeer().String())
	l.events <- radio.Event{Kind: radio.EventWriteReceived, Peer: peer, Payload: payload[:n]}
	if l.onWrite != nil {
		l.onWrite(peer, payload[:n])
	}
}

// OnWrite registers a callback invoked with the payload of every incoming
// direct write stream, in addition to the EventWriteReceived delivered on
// Events.
func (l *Host) OnWrite(fn func(peer radio.PeerHandle, payload []byte)) {
	l.mu.Lock()
	l.onWrite = fn
	l.mu.Unlock()
}

// Disconnect implements radio.Capability as a no-op acknowledgement;
// libp2p/pubsub manage the underlying mesh membership independently of any
// single logical peer's lifecycle.
func (l *Host) Disconnect(_ context.Context, peer radio.PeerHandle) error {
	l.events <- radio.Event{Kind: radio.EventDisconnected, Peer: peer}
	return nil
}

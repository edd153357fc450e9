// Package discovery implements optional LAN peer discovery: a CBOR
// announcement periodically written to a multicast UDP group. The listener
// anchors each announcement to the sender address reported by the socket,
// never to anything inside the payload.
package discovery

import (
	"context"
	"net"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const maxAnnouncementSize = 1024

type Announcement struct {
	Identifier []byte `cbor:"1,keyasint,omitempty"`
	Port       int    `cbor:"2,keyasint,omitempty"`
	FullNode   bool   `cbor:"3,keyasint,omitempty"`
}

// HandlerFunc receives a decoded announcement and the address it came from.
type HandlerFunc func(sender net.IP, msg *Announcement)

type Multicast struct {
	rc *net.UDPConn
	wc *net.UDPConn
}

func New(group string) (*Multicast, error) {
	addr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, err
	}

	rc, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}

	wc, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		rc.Close()
		return nil, err
	}

	log.Infof("discovery: joined multicast group %s", group)

	return &Multicast{rc: rc, wc: wc}, nil
}

func (m *Multicast) Announce(msg *Announcement) error {
	raw, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = m.wc.Write(raw)
	return err
}

// Listen reads announcements until the context is cancelled. Malformed
// frames are dropped; the group is as untrusted as the rest of the network.
func (m *Multicast) Listen(ctx context.Context, handle HandlerFunc) error {
	go func() {
		<-ctx.Done()
		m.rc.Close()
	}()

	buf := make([]byte, maxAnnouncementSize)
	m.rc.SetReadBuffer(maxAnnouncementSize)
	for {
		n, sender, err := m.rc.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("discovery: listener stopped")
				return ctx.Err()
			default:
			}
			log.Errorf("discovery: failed to read announcement: %v", err)
			continue
		}

		msg := &Announcement{}
		if err := cbor.Unmarshal(buf[:n], msg); err != nil {
			log.Debugf("discovery: dropping malformed announcement from %s: %v", sender, err)
			continue
		}

		handle(sender.IP, msg)
	}
}

func (m *Multicast) Close() error {
	m.rc.Close()
	return m.wc.Close()
}

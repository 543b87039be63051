// Package evbus is the lifecycle event bus other components of the bridge
// publish onto: simulation-started, reset-asserted/deasserted, status-ready,
// and per-descriptor interrupt-registered notices. It is not on the request-reply
// hot path (reqserver talks to the pump over its own FIFO); it exists so the
// transport layer and an optional local console can observe bridge state
// without the pump or request server holding a direct reference to either.
//
// It is a topic-trie pub/sub: retained messages so a late subscriber
// immediately sees the last known state, best-effort delivery that drops
// the oldest buffered message rather than blocking a slow subscriber, and
// MQTT-style "+"/"#" wildcard matching. Trimmed to this bridge's
// lifecycle-event topics; no request/reply helpers are built on top of the
// trie since reqserver already owns its own request/response path.
package evbus

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Topic is a slash-free sequence of tokens, matched against subscriptions
// that may contain the single-level wildcard "+" or the multi-level "#".
type Topic []string

// Well-known lifecycle topics this bridge publishes on.
var (
	TopicSimulationStarted = Topic{"sim", "started"}
	TopicResetAsserted     = Topic{"sim", "reset", "asserted"}
	TopicResetDeasserted   = Topic{"sim", "reset", "deasserted"}
	TopicStatusReady       = Topic{"sim", "status", "ready"}
	TopicInterruptFired    = func(fd uint32) Topic { return Topic{"sim", "irq", strconv.Itoa(int(fd))} }
)

// TopicInterruptRegistered identifies the notice published when a client
// descriptor is bound to a processing element's interrupt line, as opposed
// to TopicInterruptFired which would mark an actual rising edge.
func TopicInterruptRegistered(fd uint32) Topic {
	return Topic{"sim", "irq", strconv.Itoa(int(fd)), "registered"}
}

// Message is one published event. Retained messages are handed immediately
// to any later subscriber whose topic matches.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ID       uint32
}

type subscription struct {
	topic Topic
	ch    chan *Message
	bus   *Bus
	conn  *Connection
}

func (s *subscription) Channel() <-chan *Message { return s.ch }
func (s *subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

type node struct {
	children map[string]*node
	subs     []*subscription
	retained *Message
}

func ensureChild(n *node, t string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	if n.children[t] == nil {
		n.children[t] = &node{}
	}
	return n.children[t]
}

// Bus is the shared event trie. The zero value is not usable; construct
// with New.
type Bus struct {
	mu    sync.Mutex
	root  *node
	qLen  int
	idCtr atomic.Uint32
}

const (
	singleWildcard = "+"
	multiWildcard  = "#"
	defaultQLen    = 4
)

// New returns a Bus whose per-subscriber buffer holds queueLen undelivered
// messages before the oldest is dropped. queueLen <= 0 uses a small default.
func New(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = defaultQLen
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) nextID() uint32 { return b.idCtr.Add(1) }

// NewConnection returns a Connection that tracks every subscription made
// through it so Disconnect can unwind them all at once.
func (b *Bus) NewConnection() *Connection { return &Connection{bus: b} }

// Publish delivers msg to every matching subscriber and, if Retained, stores
// it so a subscription made later against a matching topic sees it
// immediately.
func (b *Bus) Publish(msg *Message) {
	if msg.ID == 0 {
		msg.ID = b.nextID()
	}
	b.mu.Lock()
	var subs []*subscription
	b.collectSubscribersLocked(b.root, msg.Topic, 0, &subs)
	if msg.Retained {
		b.retainSetLocked(msg)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.tryDeliver(sub, msg)
	}
}

func (b *Bus) tryDeliver(sub *subscription, msg *Message) {
	defer func() { _ = recover() }() // channel may have just been closed by Unsubscribe
	select {
	case sub.ch <- msg:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
}

func (b *Bus) addSubscription(topic Topic, sub *subscription) {
	b.mu.Lock()
	n := b.root
	for _, t := range topic {
		n = ensureChild(n, t)
	}
	n.subs = append(n.subs, sub)

	var retained []*Message
	b.collectRetainedLocked(b.root, topic, 0, &retained)
	b.mu.Unlock()

	for _, rm := range retained {
		b.tryDeliver(sub, rm)
	}
}

func (b *Bus) unsubscribe(topic Topic, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child := n.children[t]
		if child == nil {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := topic[i]
		child := parent.children[key]
		if child != nil && len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

func (b *Bus) collectSubscribersLocked(n *node, topic Topic, depth int, out *[]*subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		if n.children != nil {
			if mw := n.children[multiWildcard]; mw != nil {
				*out = append(*out, mw.subs...)
			}
		}
		return
	}
	tok := topic[depth]
	if n.children != nil {
		if child := n.children[tok]; child != nil {
			b.collectSubscribersLocked(child, topic, depth+1, out)
		}
		if sw := n.children[singleWildcard]; sw != nil {
			b.collectSubscribersLocked(sw, topic, depth+1, out)
		}
		if mw := n.children[multiWildcard]; mw != nil {
			*out = append(*out, mw.subs...)
		}
	}
}

func (b *Bus) retainSetLocked(msg *Message) {
	n := b.root
	for _, t := range msg.Topic {
		n = ensureChild(n, t)
	}
	n.retained = msg
}

func (b *Bus) collectRetainedLocked(n *node, pattern Topic, depth int, out *[]*Message) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[depth] {
	case multiWildcard:
		b.collectAllRetainedLocked(n, out)
	case singleWildcard:
		for _, child := range n.children {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	default:
		if child := n.children[pattern[depth]]; child != nil {
			b.collectRetainedLocked(child, pattern, depth+1, out)
		}
	}
}

func (b *Bus) collectAllRetainedLocked(n *node, out *[]*Message) {
	if n == nil {
		return
	}
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		b.collectAllRetainedLocked(child, out)
	}
}

// Connection groups the subscriptions made by one consumer (typically one
// transport client) so they can all be torn down together.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*subscription
}

func (c *Connection) Publish(topic Topic, payload any, retained bool) {
	c.bus.Publish(&Message{Topic: topic, Payload: payload, Retained: retained})
}

func (c *Connection) Subscribe(topic Topic) *subscription {
	sub := &subscription{topic: topic, ch: make(chan *Message, c.bus.qLen), bus: c.bus, conn: c}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

func (c *Connection) Unsubscribe(sub *subscription) {
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}

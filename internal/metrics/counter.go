package metrics

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// Metric names exposed on /metrics.
const (
	NameSent      = "p2p_messages_sent"
	NameReceived  = "p2p_messages_received"
	NamePeerCount = "p2p_peer_count"
)

// Counter tracks cumulative sent/received message counts for one process.
// There is no reset.
type Counter struct {
	sent atomic.Uint64
	recv atomic.Uint64
}

// NewCounter returns a zeroed counter.
func NewCounter() *Counter {
	return &Counter{}
}

// IncSent records one outbound message or forwarded operation.
func (c *Counter) IncSent() {
	c.sent.Add(1)
}

// IncRecv records one inbound message or forwarded operation.
func (c *Counter) IncRecv() {
	c.recv.Add(1)
}

// Sent returns the number of outbound messages so far.
func (c *Counter) Sent() uint64 {
	return c.sent.Load()
}

// Recv returns the number of inbound messages so far.
func (c *Counter) Recv() uint64 {
	return c.recv.Load()
}

// Render writes the line-oriented snapshot:
//
//	p2p_messages_sent{instance="http://host:port"} 3
func (c *Counter) Render(w io.Writer, instance string, peerCount int) error {
	label := strconv.Quote(instance)
	_, err := fmt.Fprintf(w, "%s{instance=%s} %d\n%s{instance=%s} %d\n%s{instance=%s} %d\n",
		NameSent, label, c.Sent(),
		NameReceived, label, c.Recv(),
		NamePeerCount, label, peerCount,
	)
	return err
}

// Parse reads a snapshot produced by Render (or anything in the same
// `name{labels} value` shape) into name -> value. Lines that do not parse
// are skipped.
func Parse(r io.Reader) (map[string]float64, error) {
	out := make(map[string]float64)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, _, _ := strings.Cut(fields[0], "{")
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out, sc.Err()
}

// Package resolver is a small DNS server for recording rigs. Pointing the
// rig's resolv.conf at it pins the hosts a scene visits, so a browser or
// client under demonstration always reaches the same backend.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/slcjordan/demoreel/logger"
)

// LookupFunc resolves a host name to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type Options struct {
	// Hosts answers names directly, without a trailing dot.
	Hosts map[string]string
	// Loopback replaces 127.0.0.1 answers from the fallback lookup. It is an
	// address or a name that is looked up once per query, e.g.
	// host.docker.internal from inside a container.
	Loopback string
	// Lookup is the fallback, net.DefaultResolver when nil.
	Lookup LookupFunc
}

type Resolver struct {
	hosts    map[string]string
	loopback string
	lookup   LookupFunc
}

func New(opts Options) *Resolver {
	hosts := make(map[string]string, len(opts.Hosts))
	for name, addr := range opts.Hosts {
		hosts[strings.ToLower(strings.TrimSuffix(name, "."))] = addr
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	return &Resolver{hosts: hosts, loopback: opts.Loopback, lookup: lookup}
}

// Resolve is the address the server answers for hostname.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (string, error) {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	if addr, ok := r.hosts[hostname]; ok {
		return addr, nil
	}
	ips, err := r.lookup(ctx, hostname)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", hostname)
	}
	if r.loopback == "" {
		return ips[0], nil
	}
	for _, ip := range ips {
		if ip == "127.0.0.1" {
			return r.loopbackAddr(ctx)
		}
	}
	return ips[0], nil
}

func (r *Resolver) loopbackAddr(ctx context.Context) (string, error) {
	if net.ParseIP(r.loopback) != nil {
		return r.loopback, nil
	}
	ips, err := r.lookup(ctx, r.loopback)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", r.loopback)
	}
	return ips[0], nil
}

func (r *Resolver) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx := context.Background()
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = false

	for _, q := range req.Question {
		if q.Qtype != dns.TypeA || q.Qclass != dns.ClassINET {
			continue
		}
		addr, err := r.Resolve(ctx, q.Name)
		if err != nil {
			logger.Infof(ctx, "failed to resolve %s: %v", q.Name, err)
			continue
		}
		ip := net.ParseIP(addr).To4()
		if ip == nil {
			logger.Warnf(ctx, "%s resolved to non IPv4 address %s", q.Name, addr)
			continue
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   ip,
		})
	}
	if len(m.Answer) == 0 && len(req.Question) > 0 && req.Question[0].Qtype == dns.TypeA {
		m.Rcode = dns.RcodeNameError
	}
	w.WriteMsg(m)
}

// Serve answers queries on pc until ctx is done.
func (r *Resolver) Serve(ctx context.Context, pc net.PacketConn) error {
	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: r, NotifyStartedFunc: func() { close(started) }}
	errs := make(chan error, 1)
	go func() { errs <- server.ActivateAndServe() }()

	// Shutdown fails on a server that has not started.
	select {
	case err := <-errs:
		return err
	case <-started:
	}
	logger.Infof(ctx, "resolver listening on udp %s", pc.LocalAddr())
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		server.Shutdown()
		<-errs
		return nil
	}
}

// Listen binds the UDP socket for Serve, e.g. ":53".
func Listen(addr string) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return pc, nil
}

// ListenAndServe binds addr and serves until ctx is done.
func (r *Resolver) ListenAndServe(ctx context.Context, addr string) error {
	pc, err := Listen(addr)
	if err != nil {
		return err
	}
	return r.Serve(ctx, pc)
}

// Package redisstub implements just enough of the RESP2 protocol to back the
// redis storage driver and rate limiter in tests. Clients that attempt the
// RESP3 handshake receive an error reply for HELLO and are expected to fall
// back, so the connection must stay open after unknown commands.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	hashes   map[string]map[string]string
	zsets    map[string]*sortedSet
	counters map[string]*counterEntry
	closed   chan struct{}
	tlsCert  tls.Certificate
	certPEM  []byte
	keyPEM   []byte
}

type sortedSet struct {
	entries []zsetEntry
}

type zsetEntry struct {
	member string
	score  float64
}

type counterEntry struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:     opts,
		hashes:   make(map[string]map[string]string),
		zsets:    make(map[string]*sortedSet),
		counters: make(map[string]*counterEntry),
		closed:   make(chan struct{}),
	}
	addr := "127.0.0.1:0"
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.tlsCert = cert
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) CertPEM() []byte {
	return s.certPEM
}

func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		switch cmd {
		case "PING":
			if err := writeSimpleString(writer, "PONG"); err != nil {
				return
			}
		case "HELLO":
			// RESP3 is not implemented; clients fall back to RESP2 when
			// HELLO errors.
			if err := writeError(writer, "ERR unknown command 'HELLO'"); err != nil {
				return
			}
		case "CLIENT":
			if err := writeError(writer, "ERR unknown subcommand"); err != nil {
				return
			}
		case "AUTH":
			password := ""
			switch len(args) {
			case 2:
				password = args[1]
			case 3:
				password = args[2]
			default:
				if err := writeError(writer, "ERR wrong number of arguments for 'auth'"); err != nil {
					return
				}
				continue
			}
			if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				if err := writeSimpleString(writer, "OK"); err != nil {
					return
				}
			} else {
				if err := writeError(writer, "WRONGPASS invalid username-password pair"); err != nil {
					return
				}
			}
		case "SELECT":
			if err := writeSimpleString(writer, "OK"); err != nil {
				return
			}
		default:
			if !authenticated {
				if err := writeError(writer, "NOAUTH Authentication required."); err != nil {
					return
				}
				continue
			}
			if err := s.dispatch(writer, cmd, args); err != nil {
				return
			}
		}
	}
}

// dispatch handles data commands. Protocol errors are written as RESP errors
// and the connection stays open; only transport failures end the session.
func (s *Server) dispatch(writer *bufio.Writer, cmd string, args []string) error {
	switch cmd {
	case "HSET":
		if len(args) < 4 || len(args)%2 != 0 {
			return writeError(writer, "ERR wrong number of arguments for 'hset'")
		}
		added := s.hset(args[1], args[2:])
		return writeInteger(writer, added)
	case "HGET":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'hget'")
		}
		value, ok := s.hget(args[1], args[2])
		if !ok {
			return writeBulkNil(writer)
		}
		return writeBulkString(writer, value)
	case "HGETALL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'hgetall'")
		}
		return writeFlatArray(writer, s.hgetall(args[1]))
	case "HDEL":
		if len(args) < 3 {
			return writeError(writer, "ERR wrong number of arguments for 'hdel'")
		}
		return writeInteger(writer, s.hdel(args[1], args[2:]))
	case "HLEN":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'hlen'")
		}
		s.mu.Lock()
		length := int64(len(s.hashes[args[1]]))
		s.mu.Unlock()
		return writeInteger(writer, length)
	case "ZADD":
		if len(args) < 4 || len(args)%2 != 0 {
			return writeError(writer, "ERR wrong number of arguments for 'zadd'")
		}
		added, err := s.zadd(args[1], args[2:])
		if err != nil {
			return writeError(writer, "ERR value is not a valid float")
		}
		return writeInteger(writer, added)
	case "ZCARD":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'zcard'")
		}
		return writeInteger(writer, s.zcard(args[1]))
	case "ZREMRANGEBYRANK":
		if len(args) != 4 {
			return writeError(writer, "ERR wrong number of arguments for 'zremrangebyrank'")
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return writeError(writer, "ERR value is not an integer or out of range")
		}
		return writeInteger(writer, s.zremrangebyrank(args[1], start, stop))
	case "ZREVRANGE":
		if len(args) < 4 {
			return writeError(writer, "ERR wrong number of arguments for 'zrevrange'")
		}
		start, err1 := strconv.Atoi(args[2])
		stop, err2 := strconv.Atoi(args[3])
		if err1 != nil || err2 != nil {
			return writeError(writer, "ERR value is not an integer or out of range")
		}
		return writeFlatArray(writer, s.zrevrange(args[1], start, stop))
	case "DEL":
		if len(args) < 2 {
			return writeError(writer, "ERR wrong number of arguments for 'del'")
		}
		return writeInteger(writer, s.del(args[1:]))
	case "INCR":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'incr'")
		}
		return writeInteger(writer, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(writer, "ERR invalid expire time")
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return writeInteger(writer, 1)
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'")
		}
		return writeInteger(writer, s.ttl(args[1]))
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
}

func (s *Server) hset(key string, fields []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	var added int64
	for i := 0; i+1 < len(fields); i += 2 {
		if _, exists := hash[fields[i]]; !exists {
			added++
		}
		hash[fields[i]] = fields[i+1]
	}
	return added
}

func (s *Server) hget(key, field string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		return "", false
	}
	value, ok := hash[field]
	return value, ok
}

func (s *Server) hgetall(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := s.hashes[key]
	fields := make([]string, 0, len(hash))
	for field := range hash {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	out := make([]string, 0, len(hash)*2)
	for _, field := range fields {
		out = append(out, field, hash[field])
	}
	return out
}

func (s *Server) hdel(key string, fields []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		return 0
	}
	var removed int64
	for _, field := range fields {
		if _, exists := hash[field]; exists {
			delete(hash, field)
			removed++
		}
	}
	return removed
}

func (s *Server) zadd(key string, pairs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		set = &sortedSet{}
		s.zsets[key] = set
	}
	var added int64
	for i := 0; i+1 < len(pairs); i += 2 {
		score, err := strconv.ParseFloat(pairs[i], 64)
		if err != nil {
			return 0, err
		}
		member := pairs[i+1]
		found := false
		for j := range set.entries {
			if set.entries[j].member == member {
				set.entries[j].score = score
				found = true
				break
			}
		}
		if !found {
			set.entries = append(set.entries, zsetEntry{member: member, score: score})
			added++
		}
	}
	sort.SliceStable(set.entries, func(i, j int) bool {
		if set.entries[i].score != set.entries[j].score {
			return set.entries[i].score < set.entries[j].score
		}
		return set.entries[i].member < set.entries[j].member
	})
	return added, nil
}

func (s *Server) zcard(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return 0
	}
	return int64(len(set.entries))
}

func (s *Server) zremrangebyrank(key string, start, stop int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return 0
	}
	n := len(set.entries)
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return 0
	}
	removed := stop - start + 1
	set.entries = append(set.entries[:start], set.entries[stop+1:]...)
	return int64(removed)
}

func (s *Server) zrevrange(key string, start, stop int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.zsets[key]
	if !ok {
		return nil
	}
	n := len(set.entries)
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil
	}
	out := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, set.entries[n-1-i].member)
	}
	return out
}

// normalizeRange resolves redis-style negative indices against a list of n
// elements and clamps the result to valid bounds. A start past the end yields
// start > stop so callers return empty.
func normalizeRange(start, stop, n int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n {
		return 1, 0
	}
	return start, stop
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.hashes[key]; ok {
			delete(s.hashes, key)
			removed++
			continue
		}
		if _, ok := s.zsets[key]; ok {
			delete(s.zsets, key)
			removed++
			continue
		}
		if _, ok := s.counters[key]; ok {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counterEntry{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		entry = &counterEntry{}
		s.counters[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func generateSelfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"redisstub"}, CommonName: "redisstub"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeFlatArray(w *bufio.Writer, values []string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}

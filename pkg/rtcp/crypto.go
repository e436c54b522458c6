package rtcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/logging"
	"github.com/pion/srtp/v3"
)

const (
	srtpMasterKeyLen  = 16 // AES-128
	srtpMasterSaltLen = 14
	dtlsSRTPLabel     = "EXTRACTOR-dtls_srtp"
)

// CryptoConfig configures the DTLS-SRTP handshake the CryptoBoundary
// drives. Grounded on the teacher's DTLSTransportConfig in
// pkg/rtp/transport_dtls.go.
type CryptoConfig struct {
	Certificates       []tls.Certificate
	ClientCAs          *x509.CertPool
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
	MTU                int
}

// DefaultCryptoConfig mirrors the teacher's DefaultDTLSTransportConfig
// defaults for the fields this module still needs.
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{
		HandshakeTimeout: 30 * time.Second,
		MTU:              1500,
	}
}

// CryptoBoundary is the handshake-gated SRTCP facade of spec §4.5: a DTLS
// handshake worker, always run as server, that on success derives the
// inbound/outbound SRTCP transformers and on failure leaves
// handshake_complete false, so a secured session keeps dropping RTCP.
// Grounded on the teacher's transport_dtls.go for the DTLS
// mechanics and on bluenviron-gortsplib's wrapped_srtp_context.go for the
// actual SRTP/SRTCP transform — the teacher never performs one, it tunnels
// raw RTP bytes over the DTLS connection directly.
type CryptoBoundary struct {
	log logging.LoggerFactory

	mu          sync.Mutex
	handshaking bool
	complete    atomic.Bool

	encodeCtx *srtp.Context // keyed with the server (local) write key
	decodeCtx *srtp.Context // keyed with the client (remote) write key
}

// NewCryptoBoundary constructs an idle, plaintext crypto boundary.
func NewCryptoBoundary() *CryptoBoundary {
	return &CryptoBoundary{log: logging.NewDefaultLoggerFactory()}
}

// IsHandshakeComplete implements DtlsHandler.
func (c *CryptoBoundary) IsHandshakeComplete() bool { return c.complete.Load() }

// IsHandshaking reports whether a handshake is currently in flight.
func (c *CryptoBoundary) IsHandshaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaking
}

// Enable starts the DTLS handshake as server over conn (spec §4.5: the
// media server is always the DTLS server) and, on success, derives the
// SRTCP transformers. The handshake runs in its own goroutine; the caller
// observes completion through IsHandshakeComplete.
func (c *CryptoBoundary) Enable(ctx context.Context, conn net.Conn, cfg CryptoConfig, log StructuredLogger) error {
	c.mu.Lock()
	if c.handshaking {
		c.mu.Unlock()
		return newError(ErrInvalidState, "Enable", fmt.Errorf("handshake already in progress"))
	}
	c.handshaking = true
	c.mu.Unlock()

	go c.runHandshake(ctx, conn, cfg, log)
	return nil
}

func (c *CryptoBoundary) runHandshake(ctx context.Context, conn net.Conn, cfg CryptoConfig, log StructuredLogger) {
	defer func() {
		c.mu.Lock()
		c.handshaking = false
		c.mu.Unlock()
	}()

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}

	dtlsConfig := &dtls.Config{
		Certificates:         cfg.Certificates,
		ClientCAs:            cfg.ClientCAs,
		InsecureSkipVerify:   cfg.InsecureSkipVerify,
		MTU:                  cfg.MTU,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		LoggerFactory:        c.log,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, cfg.HandshakeTimeout)
		},
	}

	hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	dtlsConn, err := dtls.ServerWithContext(hsCtx, conn, dtlsConfig)
	if err != nil {
		log.Warn("dtls handshake failed", Err(err))
		return
	}

	if err := c.deriveTransforms(dtlsConn); err != nil {
		log.Warn("srtcp key derivation failed", Err(err))
		return
	}

	c.complete.Store(true)
	log.Info("dtls-srtp handshake complete")
}

// deriveTransforms implements the RFC 5764 keying-material partition:
// client_write_key | server_write_key | client_write_salt | server_write_salt,
// then builds the server (local, outbound) and client (remote, inbound)
// SRTP contexts from it.
func (c *CryptoBoundary) deriveTransforms(conn *dtls.Conn) error {
	state := conn.ConnectionState()
	total := 2*srtpMasterKeyLen + 2*srtpMasterSaltLen
	material, err := state.ExportKeyingMaterial(dtlsSRTPLabel, nil, total)
	if err != nil {
		return fmt.Errorf("export keying material: %w", err)
	}

	clientKey := material[0:srtpMasterKeyLen]
	serverKey := material[srtpMasterKeyLen : 2*srtpMasterKeyLen]
	clientSalt := material[2*srtpMasterKeyLen : 2*srtpMasterKeyLen+srtpMasterSaltLen]
	serverSalt := material[2*srtpMasterKeyLen+srtpMasterSaltLen : total]

	profile := srtp.ProtectionProfileAes128CmHmacSha1_80

	encodeCtx, err := srtp.CreateContext(serverKey, serverSalt, profile)
	if err != nil {
		return fmt.Errorf("create server srtp context: %w", err)
	}
	decodeCtx, err := srtp.CreateContext(clientKey, clientSalt, profile)
	if err != nil {
		return fmt.Errorf("create client srtp context: %w", err)
	}

	c.mu.Lock()
	c.encodeCtx = encodeCtx
	c.decodeCtx = decodeCtx
	c.mu.Unlock()
	return nil
}

// Disable restores plaintext operation. Must not be called while
// handshaking (spec §4.5).
func (c *CryptoBoundary) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshaking {
		return newError(ErrInvalidState, "Disable", fmt.Errorf("cannot disable while handshaking"))
	}
	c.complete.Store(false)
	c.encodeCtx = nil
	c.decodeCtx = nil
	return nil
}

// EncodeRTCP implements DtlsHandler: transforms a plaintext compound RTCP
// packet into SRTCP.
func (c *CryptoBoundary) EncodeRTCP(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	ctx := c.encodeCtx
	c.mu.Unlock()
	if ctx == nil {
		return nil, newError(ErrCryptoPending, "EncodeRTCP", nil)
	}
	out, err := ctx.EncryptRTCP(nil, plaintext, nil)
	if err != nil {
		return nil, newError(ErrCryptoDecodeFailure, "EncodeRTCP", err)
	}
	return out, nil
}

// DecodeRTCP implements DtlsHandler: reverses an inbound SRTCP packet back
// to plaintext compound RTCP.
func (c *CryptoBoundary) DecodeRTCP(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	ctx := c.decodeCtx
	c.mu.Unlock()
	if ctx == nil {
		return nil, newError(ErrCryptoPending, "DecodeRTCP", nil)
	}
	out, err := ctx.DecryptRTCP(nil, ciphertext, nil)
	if err != nil {
		return nil, newError(ErrCryptoDecodeFailure, "DecodeRTCP", err)
	}
	return out, nil
}

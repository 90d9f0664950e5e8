// Package lnd provides a gRPC client wrapper for interacting with an LND node.
//
// This package abstracts the Lightning Network Daemon (LND) behind a clean
// interface so the rest of the codebase depends on LightningDispatcher, not
// on LND internals. This makes testing and potential future migration (e.g.
// CLN) easier.
package lnd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config carries the LND connection settings (populated from the [lnd]
// section of config.toml).
type Config struct {
	GRPCHost              string // "localhost" or an internal service name
	GRPCPort              string // 10009
	TLSCertPath           string // path to LND's tls.cert
	MacaroonPath          string // path to admin.macaroon (or a custom-baked macaroon)
	Network               string // "mainnet", "testnet", "regtest"
	PaymentTimeoutSeconds int    // max time to wait for payment settlement (default: 60)
}

// PaymentStatus is the discriminated outcome of a dispatch attempt.
type PaymentStatus string

const (
	PaymentSucceeded       PaymentStatus = "Success"
	PaymentRouteFailed     PaymentStatus = "RouteFailed"
	PaymentTimeout         PaymentStatus = "Timeout"
	PaymentIncorrectAmount PaymentStatus = "IncorrectAmount"
	PaymentOther           PaymentStatus = "Other"
)

// PaymentResult is returned by LightningDispatcher.PayInvoice.
type PaymentResult struct {
	Status   PaymentStatus
	Preimage string // hex-encoded, set iff Status == PaymentSucceeded
	FeeMsats int64
}

// NodeInfo reports basic LND node status, used for startup/health checks.
type NodeInfo struct {
	Alias         string
	PubKey        string
	SyncedToChain bool
	SyncedToGraph bool
	BlockHeight   uint32
}

// LightningDispatcher abstracts outbound Lightning payment dispatch. The
// Withdraw Session Manager holds a reference to one of these; it never talks
// to LND (or any other backend) directly.
type LightningDispatcher interface {
	// PayInvoice pays a BOLT-11 invoice. Implementations must refuse to pay
	// (returning PaymentIncorrectAmount) if the invoice's own amount differs
	// from expectedAmountMsats.
	PayInvoice(ctx context.Context, bolt11 string, expectedAmountMsats int64) (*PaymentResult, error)

	// GetInfo reports node health.
	GetInfo(ctx context.Context) (*NodeInfo, error)

	// Close releases any underlying connection.
	Close() error
}

// macaroonCredential implements grpc.PerRPCCredentials. It attaches the
// hex-encoded macaroon as gRPC metadata on every RPC call, so LND can
// authenticate and authorize the request.
type macaroonCredential struct {
	macaroon string // hex-encoded serialized macaroon
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

// Client is the concrete LightningDispatcher implementation backed by an LND
// gRPC connection.
type Client struct {
	conn         *grpc.ClientConn
	lnClient     lnrpc.LightningClient
	routerClient routerrpc.RouterClient
	cfg          Config
}

var _ LightningDispatcher = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	fileMacaroonData, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon file %s: %w", cfg.MacaroonPath, err)
	}
	macaroonCreds := macaroonCredential{macaroon: hex.EncodeToString(fileMacaroonData)}

	url := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macaroonCreds))
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", url, err)
	}

	lnClient := lnrpc.NewLightningClient(conn)

	// Validate connection by calling GetInfo — fails fast if LND is not
	// running, wallet is locked, or credentials are wrong.
	info, err := lnClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to LND (is it running? wallet unlocked?): %w", err)
	}
	if !info.SyncedToChain {
		fmt.Println("WARNING: LND is not synced to chain — payments may fail until sync completes")
	}

	return &Client{
		conn:         conn,
		lnClient:     lnClient,
		routerClient: routerrpc.NewRouterClient(conn),
		cfg:          cfg,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

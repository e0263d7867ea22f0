package fabric

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"farmtrace/blockchain/types"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/proto"
)

// qscc is the peer's ledger query system chaincode
const qscc = "qscc"

// gatewayConn drives the farm ledger chaincode through the Fabric Gateway.
type gatewayConn struct {
	conn     *grpc.ClientConn
	gw       *client.Gateway
	contract *client.Contract
	ledger   *client.Contract
	channel  string
}

func dial(cfg *FabricConfig, timeout time.Duration) (*gatewayConn, error) {
	id, err := newIdentity(cfg)
	if err != nil {
		return nil, err
	}
	sign, err := newSign(cfg)
	if err != nil {
		return nil, err
	}

	tlsPEM, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TLS certificate: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TLS certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)

	conn, err := grpc.NewClient(cfg.PeerEndpoint,
		grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	gw, err := client.Connect(id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(timeout),
		client.WithEndorseTimeout(timeout),
		client.WithSubmitTimeout(timeout),
		client.WithCommitStatusTimeout(timeout),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect gateway: %w", err)
	}

	network := gw.GetNetwork(cfg.ChannelName)
	return &gatewayConn{
		conn:     conn,
		gw:       gw,
		contract: network.GetContract(cfg.ChaincodeName),
		ledger:   network.GetContract(qscc),
		channel:  cfg.ChannelName,
	}, nil
}

func newIdentity(cfg *FabricConfig) (*identity.X509Identity, error) {
	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read client certificate: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}
	return identity.NewX509Identity(cfg.MSPID, cert)
}

func newSign(cfg *FabricConfig) (identity.Sign, error) {
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return identity.NewPrivateKeySign(key)
}

// Submit endorses, orders and waits for the commit of one transaction. Once the
// transaction has been handed to the orderer, any failure to learn its fate is unconfirmed.
func (g *gatewayConn) Submit(ctx context.Context, name string, args ...string) (string, uint64, error) {
	proposal, err := g.contract.NewProposal(name, client.WithArguments(args...))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build proposal: %w", err)
	}
	tx, err := proposal.EndorseWithContext(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("endorsement failed: %w", err)
	}
	commit, err := tx.SubmitWithContext(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("%w: tx %s: submit: %v", types.ErrConfirmationTimeout, proposal.TransactionID(), err)
	}
	status, err := commit.StatusWithContext(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("%w: tx %s: %v", types.ErrConfirmationTimeout, commit.TransactionID(), err)
	}
	if !status.Successful {
		return "", 0, fmt.Errorf("transaction %s failed validation: %v", status.TransactionID, status.Code)
	}
	return status.TransactionID, status.BlockNumber, nil
}

func (g *gatewayConn) Evaluate(ctx context.Context, name string, args ...string) ([]byte, error) {
	proposal, err := g.contract.NewProposal(name, client.WithArguments(args...))
	if err != nil {
		return nil, fmt.Errorf("failed to build proposal: %w", err)
	}
	return proposal.EvaluateWithContext(ctx)
}

// BlockOf asks the peer's ledger which block holds a transaction.
func (g *gatewayConn) BlockOf(ctx context.Context, txID string) (uint64, error) {
	proposal, err := g.ledger.NewProposal("GetBlockByTxID", client.WithArguments(g.channel, txID))
	if err != nil {
		return 0, fmt.Errorf("failed to build block query: %w", err)
	}
	raw, err := proposal.EvaluateWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("block query for tx %s failed: %w", txID, err)
	}
	var block common.Block
	if err := proto.Unmarshal(raw, &block); err != nil {
		return 0, fmt.Errorf("failed to decode block of tx %s: %w", txID, err)
	}
	return block.GetHeader().GetNumber(), nil
}

func (g *gatewayConn) Close() error {
	g.gw.Close()
	return g.conn.Close()
}

package chain

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// FabricConfig 连接 Fabric 网关所需的参数。
type FabricConfig struct {
	PeerEndpoint string
	GatewayPeer  string // TLS 证书中的主机名
	TLSCertPath  string
	MSPID        string
	CertPath     string
	KeyPath      string
	Channel      string
	Chaincode    string
}

// FabricSubmitter 提交交易并等待提交状态，返回交易 id。
type FabricSubmitter interface {
	Submit(ctx context.Context, name string, args ...string) (txID string, err error)
}

// Fabric 通过链码 CreatePolicy(policyId, beneficiary, coverage) 在 Fabric 上创建保单。
type Fabric struct {
	submitter FabricSubmitter
	close     func() error
}

// NewFabric 使用给定 submitter 构造网关。
func NewFabric(s FabricSubmitter) *Fabric {
	return &Fabric{submitter: s, close: func() error { return nil }}
}

// DialFabric 建立 gRPC 连接与网关会话。
func DialFabric(cfg FabricConfig) (*Fabric, error) {
	conn, err := newGrpcConnection(cfg)
	if err != nil {
		return nil, err
	}
	id, err := newIdentity(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sign, err := newSign(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(5*time.Second),
		client.WithEndorseTimeout(15*time.Second),
		client.WithSubmitTimeout(5*time.Second),
		client.WithCommitStatusTimeout(1*time.Minute),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chain: fabric connect: %w", err)
	}
	contract := gw.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode)
	return &Fabric{
		submitter: contractSubmitter{contract: contract},
		close: func() error {
			gw.Close()
			return conn.Close()
		},
	}, nil
}

func (f *Fabric) CreatePolicy(ctx context.Context, tx PolicyTx) (string, error) {
	if tx.Beneficiary == "" {
		return "", ErrNoBeneficiary
	}
	if tx.Coverage == nil || tx.Coverage.Sign() <= 0 {
		return "", errors.New("chain: coverage must be positive")
	}
	return f.submitter.Submit(ctx, "CreatePolicy", tx.PolicyID, tx.Beneficiary, tx.Coverage.String())
}

// Close 关闭网关与 gRPC 连接。
func (f *Fabric) Close() error { return f.close() }

type contractSubmitter struct {
	contract *client.Contract
}

func (c contractSubmitter) Submit(ctx context.Context, name string, args ...string) (string, error) {
	_, commit, err := c.contract.SubmitAsync(name, client.WithArguments(args...))
	if err != nil {
		return "", fmt.Errorf("chain: fabric submit %s: %w", name, err)
	}
	status, err := commit.Status()
	if err != nil {
		return "", fmt.Errorf("chain: fabric commit status: %w", err)
	}
	if !status.Successful {
		return "", fmt.Errorf("chain: fabric transaction %s failed with code %d", status.TransactionID, int32(status.Code))
	}
	return status.TransactionID, nil
}

func newGrpcConnection(cfg FabricConfig) (*grpc.ClientConn, error) {
	certificate, err := loadCertificate(cfg.TLSCertPath)
	if err != nil {
		return nil, err
	}
	certPool := x509.NewCertPool()
	certPool.AddCert(certificate)
	transportCredentials := credentials.NewClientTLSFromCert(certPool, cfg.GatewayPeer)
	conn, err := grpc.Dial(cfg.PeerEndpoint, grpc.WithTransportCredentials(transportCredentials))
	if err != nil {
		return nil, fmt.Errorf("chain: fabric grpc dial %s: %w", cfg.PeerEndpoint, err)
	}
	return conn, nil
}

func newIdentity(cfg FabricConfig) (*identity.X509Identity, error) {
	certificate, err := loadCertificate(cfg.CertPath)
	if err != nil {
		return nil, err
	}
	id, err := identity.NewX509Identity(cfg.MSPID, certificate)
	if err != nil {
		return nil, fmt.Errorf("chain: fabric identity: %w", err)
	}
	return id, nil
}

func newSign(cfg FabricConfig) (identity.Sign, error) {
	privateKeyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("chain: read fabric key: %w", err)
	}
	privateKey, err := identity.PrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("chain: parse fabric key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain: fabric signer: %w", err)
	}
	return sign, nil
}

func loadCertificate(filename string) (*x509.Certificate, error) {
	certificatePEM, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("chain: read certificate %s: %w", filename, err)
	}
	return identity.CertificateFromPEM(certificatePEM)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethereum/go-ethereum/crypto"

	"medpolicy/internal/models"
	"medpolicy/internal/store"
)

type recordStores struct {
	requests    store.Store[models.PolicyRequest]
	claims      store.Store[models.Claim]
	credentials store.Store[models.CredentialRecord]
}

func (a *App) openStores(ctx context.Context) (*recordStores, error) {
	cfg := a.Config.Store
	switch cfg.Backend {
	case "memory":
		return &recordStores{
			requests:    store.NewMemory[models.PolicyRequest](),
			claims:      store.NewMemory[models.Claim](),
			credentials: store.NewMemory[models.CredentialRecord](),
		}, nil
	case "leveldb":
		db, err := store.OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return &recordStores{
			requests:    store.NewLevelDB[models.PolicyRequest](db, "policy_requests"),
			claims:      store.NewLevelDB[models.Claim](db, "claims"),
			credentials: store.NewLevelDB[models.CredentialRecord](db, "credentials"),
		}, nil
	case "dynamodb":
		awsCfg, err := a.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		db := dynamodb.NewFromConfig(awsCfg)
		return &recordStores{
			requests:    store.NewDynamo[models.PolicyRequest](db, cfg.RequestsTable),
			claims:      store.NewDynamo[models.Claim](db, cfg.ClaimsTable),
			credentials: store.NewDynamo[models.CredentialRecord](db, cfg.CredentialsTable),
		}, nil
	default:
		reqs, err := store.NewJSONFile[models.PolicyRequest](filepath.Join(cfg.Dir, "policy_requests.json"))
		if err != nil {
			return nil, err
		}
		claims, err := store.NewJSONFile[models.Claim](filepath.Join(cfg.Dir, "claims.json"))
		if err != nil {
			return nil, err
		}
		creds, err := store.NewJSONFile[models.CredentialRecord](filepath.Join(cfg.Dir, "credentials.json"))
		if err != nil {
			return nil, err
		}
		return &recordStores{requests: reqs, claims: claims, credentials: creds}, nil
	}
}

// newS3Client 自定义 endpoint（localstack）需要 path-style 访问。
func newS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.EndpointResolverWithOptions != nil
	})
}

// addressOf 由十六进制私钥推导 0x 地址。
func addressOf(hexKey string) (string, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return "", errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}

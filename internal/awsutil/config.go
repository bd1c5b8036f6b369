// Package awsutil 加载 AWS 配置；配置了 endpoint 时所有服务都指向该地址（localstack）。
package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"

	"medpolicy/internal/config"
)

// Load 按 cfg.Region 加载默认凭证链；cfg.Endpoint 非空时覆盖所有服务的 endpoint。
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsCfg.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsCfg.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...any) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
				PartitionID:       "aws",
			}, nil
		})
		opts = append(opts, awsCfg.WithEndpointResolverWithOptions(resolver))
	}
	return awsCfg.LoadDefaultConfig(ctx, opts...)
}

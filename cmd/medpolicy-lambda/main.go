// medpolicy-lambda 在 AWS Lambda（API Gateway HTTP API）上运行同一套 HTTP 接口。
// 建议 store.backend=dynamodb、content.backend=s3、audit.anchor_enabled=false。
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"medpolicy/internal/api"
	"medpolicy/internal/app"
	"medpolicy/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[medpolicy] %v", err)
	}
	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatalf("[medpolicy] %v", err)
	}
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("[medpolicy] %v", err)
	}
	lambda.Start(api.LambdaHandler(a.Server.Handler()))
}

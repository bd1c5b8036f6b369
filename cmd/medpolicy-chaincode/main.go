// medpolicy-chaincode 以外部链码方式部署保单合约，供 chain.backend=fabric 使用。
package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"medpolicy/internal/chaincode"
)

func main() {
	cc, err := contractapi.NewChaincode(&chaincode.PolicyContract{})
	if err != nil {
		log.Fatalf("[medpolicy] 创建链码失败: %v", err)
	}
	if err := cc.Start(); err != nil {
		log.Fatalf("[medpolicy] 启动链码失败: %v", err)
	}
}

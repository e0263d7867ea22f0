package main

import (
	"log"

	"farmtrace/chaincode"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func main() {
	farmChaincode, err := contractapi.NewChaincode(&chaincode.SmartContract{})
	if err != nil {
		log.Panicf("Error creating farm ledger chaincode: %v", err)
	}

	if err := farmChaincode.Start(); err != nil {
		log.Panicf("Error starting farm ledger chaincode: %v", err)
	}
}

package service

import (
	"github.com/ethereum/go-ethereum/rpc"
)

// Application groups the services the transport layer is built on.
type Application struct {
	BundlerService *BundlerService
	RPCServer      *rpc.Server
}

func NewApplication(bundler *BundlerService) (*Application, error) {
	server, err := NewRPCServer(bundler)
	if err != nil {
		return nil, err
	}
	return &Application{
		BundlerService: bundler,
		RPCServer:      server,
	}, nil
}

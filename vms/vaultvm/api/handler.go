// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/vault/vms/vaultvm"
	"github.com/luxfi/vault/vms/vaultvm/metrics"
)

// ServiceName is the RPC namespace of [Service].
const ServiceName = "vault"

// NewHandler serves [Service] over JSON-RPC, timing every call with
// [interceptor].
func NewHandler(network *vaultvm.Network, interceptor metrics.APIInterceptor, logger log.Logger) (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json.NewCodec(), "application/json")
	server.RegisterCodec(json.NewCodec(), "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)
	if err := server.RegisterService(NewService(network, logger), ServiceName); err != nil {
		return nil, fmt.Errorf("failed to register %s service: %w", ServiceName, err)
	}
	return server, nil
}

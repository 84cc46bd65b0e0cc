// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dropapi holds the Connect bindings of the administrative
// DropService. Messages are protobuf well-known types, so no generated
// message code is needed.
package dropapi

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DropServiceName is the fully-qualified name of the DropService service.
const DropServiceName = "fawa.drop.v1.DropService"

// Procedure paths, as sent in the request URL.
const (
	DropServiceStatProcedure        = "/fawa.drop.v1.DropService/Stat"
	DropServiceDeleteProcedure      = "/fawa.drop.v1.DropService/Delete"
	DropServiceReceiveFileProcedure = "/fawa.drop.v1.DropService/ReceiveFile"
)

// DropServiceClient is a client for the fawa.drop.v1.DropService service.
type DropServiceClient interface {
	// Stat returns the metadata of a stored file, by id.
	Stat(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	// Delete removes a stored file, by id. Unknown ids succeed.
	Delete(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error)
	// ReceiveFile streams the payload of a stored file in chunks.
	ReceiveFile(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.ServerStreamForClient[wrapperspb.BytesValue], error)
}

// NewDropServiceClient constructs a client for the fawa.drop.v1.DropService
// service. The baseURL is the admin listener origin, e.g.
// http://127.0.0.1:9091.
func NewDropServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) DropServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &dropServiceClient{
		stat: connect.NewClient[wrapperspb.StringValue, structpb.Struct](
			httpClient,
			baseURL+DropServiceStatProcedure,
			opts...,
		),
		delete: connect.NewClient[wrapperspb.StringValue, emptypb.Empty](
			httpClient,
			baseURL+DropServiceDeleteProcedure,
			opts...,
		),
		receiveFile: connect.NewClient[wrapperspb.StringValue, wrapperspb.BytesValue](
			httpClient,
			baseURL+DropServiceReceiveFileProcedure,
			opts...,
		),
	}
}

type dropServiceClient struct {
	stat        *connect.Client[wrapperspb.StringValue, structpb.Struct]
	delete      *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	receiveFile *connect.Client[wrapperspb.StringValue, wrapperspb.BytesValue]
}

func (c *dropServiceClient) Stat(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	return c.stat.CallUnary(ctx, req)
}

func (c *dropServiceClient) Delete(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	return c.delete.CallUnary(ctx, req)
}

func (c *dropServiceClient) ReceiveFile(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.ServerStreamForClient[wrapperspb.BytesValue], error) {
	return c.receiveFile.CallServerStream(ctx, req)
}

// DropServiceHandler is implemented by the server side of the service.
type DropServiceHandler interface {
	Stat(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error)
	Delete(context.Context, *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error)
	ReceiveFile(context.Context, *connect.Request[wrapperspb.StringValue], *connect.ServerStream[wrapperspb.BytesValue]) error
}

// NewDropServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewDropServiceHandler(svc DropServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	statHandler := connect.NewUnaryHandler(
		DropServiceStatProcedure,
		svc.Stat,
		opts...,
	)
	deleteHandler := connect.NewUnaryHandler(
		DropServiceDeleteProcedure,
		svc.Delete,
		opts...,
	)
	receiveFileHandler := connect.NewServerStreamHandler(
		DropServiceReceiveFileProcedure,
		svc.ReceiveFile,
		opts...,
	)
	return "/" + DropServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DropServiceStatProcedure:
			statHandler.ServeHTTP(w, r)
		case DropServiceDeleteProcedure:
			deleteHandler.ServeHTTP(w, r)
		case DropServiceReceiveFileProcedure:
			receiveFileHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

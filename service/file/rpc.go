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

package file

import (
	"context"
	"errors"
	"io"
	"time"

	"connectrpc.com/connect"
	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fawa-io/filedrop/pkg/dropapi"
	"github.com/fawa-io/filedrop/pkg/fwlog"
)

var _ dropapi.DropServiceHandler = (*DropServer)(nil)

// DropServer exposes stored files to operators over Connect.
type DropServer struct {
	svc *Service
}

func NewDropServer(svc *Service) *DropServer {
	return &DropServer{svc: svc}
}

// Stat returns the metadata of a stored file.
func (d *DropServer) Stat(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	rec, err := d.svc.Resolve(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, connectError(err)
	}

	meta, err := structpb.NewStruct(map[string]any{
		"id":          rec.ID,
		"name":        rec.Name(),
		"extension":   rec.Extension,
		"contentType": contentTypeOf(rec),
		"sizeBytes":   float64(rec.SizeBytes),
		"size":        humanize.IBytes(uint64(rec.SizeBytes)),
		"createdAt":   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(meta), nil
}

// Delete removes a file. Deleting an unknown id succeeds.
func (d *DropServer) Delete(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[emptypb.Empty], error) {
	id := req.Msg.GetValue()
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("id cannot be empty"))
	}
	if err := d.svc.Remove(ctx, id); err != nil {
		return nil, connectError(err)
	}
	fwlog.Infof("File %s deleted on request", id)
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// ReceiveFile streams the payload of a file in chunks.
func (d *DropServer) ReceiveFile(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
	stream *connect.ServerStream[wrapperspb.BytesValue],
) (err error) {
	rec, err := d.svc.Resolve(ctx, req.Msg.GetValue())
	if err != nil {
		return connectError(err)
	}

	body, err := d.svc.backend.Open(ctx, rec.Location)
	if err != nil {
		return connectError(openError(rec.ID, rec.Location, err))
	}
	defer func() {
		if closeErr := body.Close(); err == nil {
			err = closeErr
		}
	}()

	stream.ResponseHeader().Set("File-Name", rec.Name())
	stream.ResponseHeader().Set("File-Content-Type", contentTypeOf(rec))

	buf := make([]byte, chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if err := stream.Send(wrapperspb.Bytes(buf[:n])); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return connectError(&StorageError{Op: "read", ID: rec.ID, Location: rec.Location, Err: rerr})
		}
	}

	downloadsTotal.WithLabelValues("full").Inc()
	fwlog.Debugf("File %s streamed over rpc", rec.Name())
	return nil
}

// connectError maps service errors onto Connect codes.
func connectError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return connect.NewError(connect.CodeInvalidArgument, ve)
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, errors.New("file not found"))
	default:
		fwlog.Errorf("Rpc failed: %v", err)
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

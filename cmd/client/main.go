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

// Command client talks to a filedrop server: it uploads and downloads over
// the public HTTP API and inspects files over the admin RPC API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fawa-io/filedrop/pkg/dropapi"
	"github.com/fawa-io/filedrop/pkg/fwlog"
	"github.com/fawa-io/filedrop/pkg/httperr"
)

const usage = `Usage: client [flags] <command> [args]

Commands:
  upload <path>          upload a file and print its URL
  download <url|name>    download a file (--range for a byte range)
  stat <id>              show metadata of a stored file (admin API)
  delete <id>            delete a stored file (admin API)
  receive <id>           stream a stored file over RPC (admin API)

Flags:
`

type client struct {
	server    string
	output    string
	byteRange string
	http      *http.Client
	drop      dropapi.DropServiceClient
}

func main() {
	fs := pflag.NewFlagSet("client", pflag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "public API origin")
	admin := fs.String("admin", "http://127.0.0.1:9091", "admin API origin")
	output := fs.StringP("output", "o", "", "write downloads here instead of stdout")
	byteRange := fs.String("range", "", "byte range for download, e.g. 0-1023")
	timeout := fs.Duration("timeout", 5*time.Minute, "request timeout")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) != 2 {
		fs.Usage()
		os.Exit(2)
	}

	httpClient := &http.Client{Timeout: *timeout}
	c := &client{
		server:    strings.TrimRight(*server, "/"),
		output:    *output,
		byteRange: *byteRange,
		http:      httpClient,
		drop:      dropapi.NewDropServiceClient(httpClient, *admin),
	}

	ctx := context.Background()
	var err error
	switch args[0] {
	case "upload":
		err = c.upload(ctx, args[1])
	case "download":
		err = c.download(ctx, args[1])
	case "stat":
		err = c.stat(ctx, args[1])
	case "delete":
		err = c.delete(ctx, args[1])
	case "receive":
		err = c.receive(ctx, args[1])
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		fwlog.Fatalf("%s failed: %v", args[0], err)
	}
}

// upload streams the file as multipart form data without buffering it.
func (c *client) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
		if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
			h.Set("Content-Type", ct)
		}
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/upload", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var out struct {
		FileURL string `json:"fileUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Println(out.FileURL)
	return nil
}

func (c *client) download(ctx context.Context, target string) error {
	url := target
	if !strings.Contains(target, "://") {
		url = c.server + "/" + strings.TrimLeft(target, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.byteRange != "" {
		req.Header.Set("Range", "bytes="+c.byteRange)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return responseError(resp)
	}

	w, done, err := c.writer()
	if err != nil {
		return err
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := done(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		fwlog.Infof("Received %s (%s)", humanize.IBytes(uint64(n)), cr)
	} else {
		fwlog.Infof("Received %s", humanize.IBytes(uint64(n)))
	}
	return nil
}

func (c *client) stat(ctx context.Context, id string) error {
	resp, err := c.drop.Stat(ctx, connect.NewRequest(wrapperspb.String(id)))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp.Msg.AsMap(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (c *client) delete(ctx context.Context, id string) error {
	if _, err := c.drop.Delete(ctx, connect.NewRequest(wrapperspb.String(id))); err != nil {
		return err
	}
	fwlog.Infof("Deleted %s", id)
	return nil
}

func (c *client) receive(ctx context.Context, id string) (err error) {
	stream, err := c.drop.ReceiveFile(ctx, connect.NewRequest(wrapperspb.String(id)))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stream.Close(); err == nil {
			err = closeErr
		}
	}()

	w, done, err := c.writer()
	if err != nil {
		return err
	}
	var n int64
	for stream.Receive() {
		written, werr := w.Write(stream.Msg().GetValue())
		n += int64(written)
		if werr != nil {
			done()
			return werr
		}
	}
	if err := done(); err != nil {
		return err
	}
	if err := stream.Err(); err != nil {
		return err
	}
	fwlog.Infof("Received %s of %s", humanize.IBytes(uint64(n)), stream.ResponseHeader().Get("File-Name"))
	return nil
}

// writer returns the download destination and a func that closes it.
func (c *client) writer() (io.Writer, func() error, error) {
	if c.output == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(c.output)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func responseError(resp *http.Response) error {
	var body httperr.Body
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Code == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s (%s)", resp.Status, body.Error.Message, body.Error.Code)
}

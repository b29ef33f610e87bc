// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody caps how much of an upstream body the agent will
// buffer and cache (32 MiB).
const maxResponseBody = 32 << 20

// HTTPFetcher performs network legs over net/http.
//
// Relative request URLs are resolved against the configured upstream
// base URL; absolute URLs pass through untouched.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
}

// NewHTTPFetcher creates a fetcher. A nil client uses a default with
// no client-level timeout: strategy timeouts arrive via the context.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Fetch executes the request and buffers the response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	target := req.URL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if f.baseURL == "" {
			return Response{}, fmt.Errorf("relative url %q with no upstream base", req.URL)
		}
		target = f.baseURL + "/" + strings.TrimLeft(req.URL, "/")
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	return Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    data,
		Source:  SourceNetwork,
	}, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

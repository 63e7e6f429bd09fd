// Copyright 2025 Tom Barlow
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

// Package httpclient builds the HTTP client shared by ensemble's model
// providers.
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//
// Requests carry a User-Agent and the caller's W3C trace context, and each
// round trip is logged through log/slog with secrets removed from the URL.
// Debug level is used for successful requests and warn level for failures.
//
// # Retry Behavior
//
// When RetryAttempts > 0, transient failures are retried with exponential
// backoff and jitter:
//   - HTTP 5xx, 408 and 429 (honouring Retry-After when shorter)
//   - connection refused/reset and network timeouts
//   - never on context cancellation
//
// Only GET, HEAD and OPTIONS are retried unless AllowNonIdempotentRetry is
// set. A request body is replayed through Request.GetBody; requests without
// one are sent once.
package httpclient

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

/*
Package tracing installs the OpenTelemetry tracer provider.

Components get tracers from the global provider with Tracer, so spans cost
nothing until Setup is called with Enabled set:

	p, err := tracing.Setup(tracing.Config{Enabled: true, ServiceName: "ensemble"})
	defer p.Shutdown(ctx)

Spans are written as JSON lines by the stdout exporter.
*/
package tracing

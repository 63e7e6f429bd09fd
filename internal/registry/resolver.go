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

package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yosida95/uritemplate/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/metrics"
	"github.com/tombee/ensemble/internal/tracing"
)

// MatchKind says how a URI was resolved.
type MatchKind string

const (
	// MatchExact means a descriptor's URI equalled the request verbatim.
	MatchExact MatchKind = "exact"
	// MatchScheme means the first descriptor sharing the scheme was used.
	MatchScheme MatchKind = "scheme"
)

// Resolution is the outcome of resolving a resource URI.
type Resolution struct {
	URI   string
	Match MatchKind

	// Descriptor is the registered resource that decided the owner.
	Descriptor mcp.ResourceDefinition
	Session    mcp.Session

	// Ambiguous is set when the scheme fallback chose a server other than
	// one whose resource template actually matches the URI.
	Ambiguous bool

	// TemplateOwners lists servers with a template matching the URI.
	TemplateOwners []string
}

// Resolver maps resource URIs to the session that serves them.
type Resolver struct {
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewResolver creates a resolver over reg.
func NewResolver(reg *Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: reg,
		logger:   logger.With(slog.String("component", "resolver")),
		tracer:   tracing.Tracer("ensemble/registry"),
	}
}

// Resolve finds the owner of uri. An exact descriptor match wins; otherwise
// the first descriptor in registration order whose scheme equals the URI's
// scheme is used. When neither applies a *ResourceNotFoundError lists the
// known URIs.
func (r *Resolver) Resolve(uri string) (*Resolution, error) {
	if e, ok := r.registry.exactResource(uri); ok {
		return &Resolution{URI: uri, Match: MatchExact, Descriptor: e.Resource, Session: e.Session}, nil
	}

	scheme := schemeOf(uri)
	if scheme != "" {
		resources := r.registry.Resources()
		for _, e := range resources {
			if schemeOf(e.Resource.URI) != scheme {
				continue
			}
			res := &Resolution{URI: uri, Match: MatchScheme, Descriptor: e.Resource, Session: e.Session}
			r.checkAmbiguity(res, resources)
			return res, nil
		}
	}

	return nil, &ResourceNotFoundError{URI: uri, Known: r.registry.ResourceURIs()}
}

// checkAmbiguity compares the fallback choice with the templates that match
// the URI. The fallback result is kept; a disagreement is only reported.
func (r *Resolver) checkAmbiguity(res *Resolution, resources []ResourceEntry) {
	chosen := res.Session.ServerName()
	seen := make(map[string]bool)
	for _, e := range resources {
		if !e.Resource.Template {
			continue
		}
		tmpl, err := uritemplate.New(e.Resource.URI)
		if err != nil {
			continue
		}
		if tmpl.Match(res.URI) == nil {
			continue
		}
		owner := e.Session.ServerName()
		if !seen[owner] {
			seen[owner] = true
			res.TemplateOwners = append(res.TemplateOwners, owner)
		}
	}
	if len(res.TemplateOwners) > 0 && !seen[chosen] {
		res.Ambiguous = true
	}
	if len(res.TemplateOwners) > 1 {
		res.Ambiguous = true
	}
	if res.Ambiguous {
		r.logger.Warn("resource resolved by scheme fallback may belong to another server",
			slog.String("uri", res.URI),
			slog.String("chosen", chosen),
			slog.String("via", res.Descriptor.URI),
			slog.Any("template_owners", res.TemplateOwners))
	}
}

// Read resolves uri, reads it from the owning session and renders the
// content for display.
func (r *Resolver) Read(ctx context.Context, uri string) (string, error) {
	_, content, err := r.Fetch(ctx, uri)
	return content, err
}

// Fetch is Read that also returns how uri was resolved.
func (r *Resolver) Fetch(ctx context.Context, uri string) (_ *Resolution, _ string, err error) {
	ctx, span := r.tracer.Start(ctx, "resource.read", trace.WithAttributes(attribute.String("resource.uri", uri)))
	defer func() { tracing.EndSpan(span, err) }()

	res, err := r.Resolve(uri)
	if err != nil {
		metrics.RecordResourceRead("none", metrics.OutcomeNotFound)
		return nil, "", err
	}
	span.SetAttributes(
		attribute.String("resource.match", string(res.Match)),
		attribute.String("mcp.server", res.Session.ServerName()),
	)

	resp, err := res.Session.ReadResource(ctx, mcp.ResourceReadRequest{URI: uri})
	if err != nil {
		metrics.RecordResourceRead(string(res.Match), metrics.OutcomeFailed)
		return res, "", err
	}
	metrics.RecordResourceRead(string(res.Match), metrics.OutcomeOK)
	return res, RenderContents(resp.Contents), nil
}

// RenderContents renders resource contents in order, separated by a blank
// line. Text is returned verbatim and binary content as a size placeholder.
func RenderContents(contents []mcp.ResourceContent) string {
	if len(contents) == 0 {
		return "No content found"
	}
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		parts = append(parts, renderContent(c))
	}
	return strings.Join(parts, "\n\n")
}

func renderContent(c mcp.ResourceContent) string {
	switch c.Kind {
	case mcp.ResourceKindText:
		return c.Text
	case mcp.ResourceKindBinary:
		return fmt.Sprintf("Binary content found (blob of %d bytes)", decodedSize(c.Blob))
	default:
		if len(c.Raw) > 0 {
			return string(c.Raw)
		}
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%+v", c)
		}
		return string(b)
	}
}

// decodedSize returns the byte length of base64 data, or the encoded length
// when the data is not valid base64.
func decodedSize(blob string) int {
	b, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return len(blob)
	}
	return len(b)
}

// schemeOf returns the text before "://", or "" when there is none.
func schemeOf(uri string) string {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return ""
	}
	return scheme
}

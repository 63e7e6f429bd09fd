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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tombee/ensemble/internal/mcp"
	"github.com/tombee/ensemble/internal/metrics"
)

// ToolEntry is a tool descriptor and the session that registered it.
type ToolEntry struct {
	Tool    mcp.ToolDefinition
	Session mcp.Session
}

// ResourceEntry is a resource descriptor, literal or templated, and its owner.
type ResourceEntry struct {
	Resource mcp.ResourceDefinition
	Session  mcp.Session
}

// PromptEntry is a prompt descriptor and its owner.
type PromptEntry struct {
	Prompt  mcp.PromptDefinition
	Session mcp.Session
}

// KindState is the tri-state outcome of listing one capability kind.
type KindState string

const (
	// KindSupported means the kind was listed; Count may be zero.
	KindSupported KindState = "supported"
	// KindUnsupported means the server did not advertise the kind.
	KindUnsupported KindState = "unsupported"
	// KindFailed means listing failed and was downgraded to zero entries.
	KindFailed KindState = "failed"
)

// KindSummary describes what one server contributed for one kind.
type KindSummary struct {
	Kind  mcp.CapabilityKind
	State KindState
	Count int
	Err   error
}

// ServerSummary describes what one server contributed to the registry.
type ServerSummary struct {
	Server string
	Kinds  []KindSummary
}

// Kind returns the summary for kind.
func (s ServerSummary) Kind(kind mcp.CapabilityKind) KindSummary {
	for _, k := range s.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	return KindSummary{Kind: kind, State: KindUnsupported}
}

// String renders e.g. "research: tools=2 resources=unsupported prompts=failed".
func (s ServerSummary) String() string {
	parts := make([]string, 0, len(s.Kinds))
	for _, k := range s.Kinds {
		switch k.State {
		case KindSupported:
			parts = append(parts, fmt.Sprintf("%s=%d", k.Kind, k.Count))
		default:
			parts = append(parts, fmt.Sprintf("%s=%s", k.Kind, k.State))
		}
	}
	return s.Server + ": " + strings.Join(parts, " ")
}

// Shadow records a name registered by more than one server. The later
// registration replaced the earlier one.
type Shadow struct {
	Kind     mcp.CapabilityKind
	Name     string
	Previous string
	Current  string
}

func (s Shadow) String() string {
	return fmt.Sprintf("%s %q from %s shadowed by %s", strings.TrimSuffix(string(s.Kind), "s"), s.Name, s.Previous, s.Current)
}

// Config configures a Registry.
type Config struct {
	Logger *slog.Logger
}

// Registry aggregates tool, resource and prompt descriptors from every
// connected session. It is filled once at startup and only read afterwards.
//
// Names are unique across servers with last-write-wins: a re-registered
// name keeps its original position in listings but is owned by the later
// server, and the collision is recorded in Shadowed.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	tools     map[string]ToolEntry
	toolOrder []string
	prompts   map[string]PromptEntry
	promptOrd []string
	resources []ResourceEntry
	exact     map[string]int
	shadowed  []Shadow
	summaries []ServerSummary
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With(slog.String("component", "registry")),
		tools:   make(map[string]ToolEntry),
		prompts: make(map[string]PromptEntry),
		exact:   make(map[string]int),
	}
}

// Absorb lists every capability kind of session and registers the results.
// Kinds are queried independently in the order tools, resources, prompts;
// a kind that is unsupported or fails to list contributes nothing and does
// not prevent the others from being absorbed.
func (r *Registry) Absorb(ctx context.Context, session mcp.Session) ServerSummary {
	server := session.ServerName()
	logger := r.logger.With(slog.String("server", server))
	summary := ServerSummary{Server: server}

	for _, kind := range mcp.CapabilityKinds {
		var (
			n   int
			err error
		)
		switch kind {
		case mcp.CapabilityTools:
			var tools []mcp.ToolDefinition
			if tools, err = session.ListTools(ctx); err == nil {
				n = r.addTools(session, tools)
			}
		case mcp.CapabilityResources:
			n, err = r.absorbResources(ctx, session, logger)
		case mcp.CapabilityPrompts:
			var prompts []mcp.PromptDefinition
			if prompts, err = session.ListPrompts(ctx); err == nil {
				n = r.addPrompts(session, prompts)
			}
		}

		ks := KindSummary{Kind: kind, State: KindSupported, Count: n}
		switch {
		case err == nil:
		case mcp.HasCode(err, mcp.ErrorCodeCapabilityUnsupported):
			ks.State = KindUnsupported
		default:
			ks.State = KindFailed
			ks.Err = err
			logger.Warn("capability query failed, continuing without it",
				slog.String("kind", string(kind)),
				slog.Any("error", err))
		}
		metrics.SetRegistryEntries(server, string(kind), ks.Count)
		summary.Kinds = append(summary.Kinds, ks)
	}

	r.mu.Lock()
	r.summaries = append(r.summaries, summary)
	r.mu.Unlock()

	logger.Info("server capabilities",
		slog.String("tools", kindLabel(summary.Kind(mcp.CapabilityTools))),
		slog.String("resources", kindLabel(summary.Kind(mcp.CapabilityResources))),
		slog.String("prompts", kindLabel(summary.Kind(mcp.CapabilityPrompts))))
	return summary
}

func kindLabel(k KindSummary) string {
	if k.State == KindSupported {
		return fmt.Sprintf("%d", k.Count)
	}
	return string(k.State)
}

// absorbResources registers literal resources, then templates. A failing
// template listing is logged but keeps the literal resources.
func (r *Registry) absorbResources(ctx context.Context, session mcp.Session, logger *slog.Logger) (int, error) {
	resources, err := session.ListResources(ctx)
	if err != nil {
		return 0, err
	}
	n := r.addResources(session, resources)

	templates, err := session.ListResourceTemplates(ctx)
	if err != nil {
		if !mcp.HasCode(err, mcp.ErrorCodeCapabilityUnsupported) {
			logger.Warn("listing resource templates failed", slog.Any("error", err))
		}
		return n, nil
	}
	return n + r.addResources(session, templates), nil
}

func (r *Registry) addTools(session mcp.Session, tools []mcp.ToolDefinition) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		if prev, ok := r.tools[t.Name]; ok {
			r.shadow(mcp.CapabilityTools, t.Name, prev.Session, session)
		} else {
			r.toolOrder = append(r.toolOrder, t.Name)
		}
		r.tools[t.Name] = ToolEntry{Tool: t, Session: session}
	}
	return len(tools)
}

func (r *Registry) addPrompts(session mcp.Session, prompts []mcp.PromptDefinition) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range prompts {
		if prev, ok := r.prompts[p.Name]; ok {
			r.shadow(mcp.CapabilityPrompts, p.Name, prev.Session, session)
		} else {
			r.promptOrd = append(r.promptOrd, p.Name)
		}
		r.prompts[p.Name] = PromptEntry{Prompt: p, Session: session}
	}
	return len(prompts)
}

// addResources appends descriptors in order. A URI registered again
// replaces the earlier descriptor in place.
func (r *Registry) addResources(session mcp.Session, resources []mcp.ResourceDefinition) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range resources {
		entry := ResourceEntry{Resource: res, Session: session}
		if i, ok := r.exact[res.URI]; ok {
			r.shadow(mcp.CapabilityResources, res.URI, r.resources[i].Session, session)
			r.resources[i] = entry
			continue
		}
		r.exact[res.URI] = len(r.resources)
		r.resources = append(r.resources, entry)
	}
	return len(resources)
}

// shadow must be called with mu held.
func (r *Registry) shadow(kind mcp.CapabilityKind, name string, prev, cur mcp.Session) {
	s := Shadow{Kind: kind, Name: name, Previous: prev.ServerName(), Current: cur.ServerName()}
	r.shadowed = append(r.shadowed, s)
	metrics.RecordShadowed(string(kind))
	r.logger.Warn("capability name registered by more than one server, last one wins",
		slog.String("kind", string(kind)),
		slog.String("name", name),
		slog.String("previous", s.Previous),
		slog.String("current", s.Current))
}

// FindToolOwner returns the session that owns the named tool.
func (r *Registry) FindToolOwner(name string) (mcp.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.Session, ok
}

// AllTools returns every tool descriptor in registration order.
func (r *Registry) AllTools() []mcp.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ToolDefinition, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name].Tool)
	}
	return out
}

// FindPromptInfo returns the named prompt and its owner.
func (r *Registry) FindPromptInfo(name string) (PromptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.prompts[name]
	return e, ok
}

// Prompts returns every prompt in registration order.
func (r *Registry) Prompts() []PromptEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptEntry, 0, len(r.promptOrd))
	for _, name := range r.promptOrd {
		out = append(out, r.prompts[name])
	}
	return out
}

// Resources returns every resource descriptor in registration order.
func (r *Registry) Resources() []ResourceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ResourceEntry(nil), r.resources...)
}

// ResourceURIs returns every registered resource identifier in order.
func (r *Registry) ResourceURIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.resources))
	for i, e := range r.resources {
		out[i] = e.Resource.URI
	}
	return out
}

// exactResource returns the descriptor registered under uri verbatim.
func (r *Registry) exactResource(uri string) (ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.exact[uri]
	if !ok {
		return ResourceEntry{}, false
	}
	return r.resources[i], true
}

// Shadowed lists every name collision in the order it happened.
func (r *Registry) Shadowed() []Shadow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Shadow(nil), r.shadowed...)
}

// Summaries returns one summary per absorbed session in absorb order.
func (r *Registry) Summaries() []ServerSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ServerSummary(nil), r.summaries...)
}

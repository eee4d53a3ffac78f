// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package pluginsdk provides the SDK for building Ember binary plugins.
//
// Binary plugins run as separate processes and communicate with the
// Ember host over HashiCorp's go-plugin framework using its net/rpc
// protocol. A plugin declares its resources up front from Init and the
// host registers them on its behalf; the host then calls back into the
// plugin whenever one of those resources is exercised.
//
// Example usage:
//
//	package main
//
//	import "github.com/emberhost/ember/pkg/pluginsdk"
//
//	type EchoPlugin struct{}
//
//	func (p *EchoPlugin) Init(grants []string) (pluginsdk.Registrations, error) {
//		return pluginsdk.Registrations{
//			Commands: []pluginsdk.CommandSpec{{Name: "echo", Help: "repeat the input"}},
//		}, nil
//	}
//
//	func (p *EchoPlugin) HandleCommand(inv pluginsdk.CommandInvocation) (string, error) {
//		return inv.Args, nil
//	}
//
//	func (p *EchoPlugin) HandleEvent(ev pluginsdk.Event) error { return nil }
//
//	func (p *EchoPlugin) HandleRoute(path, query string) (string, error) { return "", nil }
//
//	func (p *EchoPlugin) Destroy() error { return nil }
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: &EchoPlugin{}})
//	}
package pluginsdk

import (
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// PluginName is the go-plugin dispense key shared by host and plugins.
const PluginName = "plugin"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EMBER_PLUGIN",
	MagicCookieValue: "ember-v1",
}

// CommandSpec declares one chat command the plugin serves.
type CommandSpec struct {
	// Name is the command word, without any prefix.
	Name string
	// Help is the one-line usage text shown in command listings.
	Help string
}

// PageSpec declares one static web page the plugin serves.
type PageSpec struct {
	// Path is the page path, starting with "/".
	Path string
	// Content is the HTML body rendered inside the host page shell.
	Content string
}

// Registrations is the full set of resources a plugin claims.
// The host registers these after a successful Init; each claim is
// subject to the capability grants in the plugin's manifest.
type Registrations struct {
	Commands []CommandSpec
	// Events lists event names the plugin subscribes to.
	Events []string
	// Routes lists HTTP route paths the plugin serves dynamically.
	Routes []string
	Pages  []PageSpec
}

// CommandInvocation carries one command call from the host.
type CommandInvocation struct {
	// Name is the invoked command word.
	Name string
	// Args is the raw text after the command word.
	Args string
	// Actor identifies who issued the command.
	Actor string
	// RequestID correlates log lines across host and plugin.
	RequestID string
}

// Event carries one platform event from the host.
type Event struct {
	// ID is the unique event identifier (ULID string).
	ID string
	// Name is the event name the plugin subscribed to.
	Name string
	// Timestamp in Unix seconds.
	Timestamp int64
	// Actor identifies who triggered the event.
	Actor string
	// Payload is the JSON-encoded event data.
	Payload []byte
}

// Plugin is the interface binary plugins implement.
type Plugin interface {
	// Init is called once when the plugin is enabled. grants holds the
	// capability names the manifest granted. The returned registrations
	// are claimed by the host on the plugin's behalf.
	Init(grants []string) (Registrations, error)

	// HandleCommand serves one invocation of a registered command and
	// returns the chat reply.
	HandleCommand(inv CommandInvocation) (string, error)

	// HandleEvent processes one subscribed event.
	HandleEvent(ev Event) error

	// HandleRoute serves one request to a registered route and returns
	// the response body.
	HandleRoute(path, query string) (string, error)

	// Destroy is called when the plugin is disabled.
	Destroy() error
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Plugin is the plugin implementation.
	// Required; Serve will panic if nil.
	Plugin Plugin
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Plugin == nil {
		panic("pluginsdk: config.Plugin cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &RPCPlugin{Impl: config.Plugin},
		},
	})
}

// RPCPlugin implements go-plugin's Plugin interface over net/rpc.
// The host dispenses it with a nil Impl; the plugin process serves it
// with Impl set.
type RPCPlugin struct {
	// Impl is used by the plugin side (unused by the host).
	Impl Plugin
}

// Server returns the RPC server for the plugin process.
func (p *RPCPlugin) Server(_ *hashiplug.MuxBroker) (any, error) {
	return &rpcServer{impl: p.Impl}, nil
}

// Client returns the host-side proxy.
func (p *RPCPlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcClient{client: c}, nil
}

// Wire types. Fields are exported for gob encoding.

// InitArgs is the request for Plugin.Init.
type InitArgs struct {
	Grants []string
}

// RouteArgs is the request for Plugin.HandleRoute.
type RouteArgs struct {
	Path  string
	Query string
}

// StringReply is the response for calls returning one string.
type StringReply struct {
	Value string
}

// Empty is the placeholder for calls with no payload.
type Empty struct{}

// rpcServer runs inside the plugin process.
type rpcServer struct {
	impl Plugin
}

func (s *rpcServer) Init(args InitArgs, reply *Registrations) error {
	regs, err := s.impl.Init(args.Grants)
	if err != nil {
		return err
	}
	*reply = regs
	return nil
}

func (s *rpcServer) HandleCommand(inv CommandInvocation, reply *StringReply) error {
	out, err := s.impl.HandleCommand(inv)
	if err != nil {
		return err
	}
	reply.Value = out
	return nil
}

func (s *rpcServer) HandleEvent(ev Event, _ *Empty) error {
	return s.impl.HandleEvent(ev)
}

func (s *rpcServer) HandleRoute(args RouteArgs, reply *StringReply) error {
	out, err := s.impl.HandleRoute(args.Path, args.Query)
	if err != nil {
		return err
	}
	reply.Value = out
	return nil
}

func (s *rpcServer) Destroy(_ Empty, _ *Empty) error {
	return s.impl.Destroy()
}

// rpcClient is the host-side proxy. It satisfies Plugin so the host can
// treat in-process and out-of-process implementations alike.
type rpcClient struct {
	client *rpc.Client
}

var _ Plugin = (*rpcClient)(nil)

func (c *rpcClient) Init(grants []string) (Registrations, error) {
	var regs Registrations
	err := c.client.Call("Plugin.Init", InitArgs{Grants: grants}, &regs)
	return regs, err
}

func (c *rpcClient) HandleCommand(inv CommandInvocation) (string, error) {
	var reply StringReply
	err := c.client.Call("Plugin.HandleCommand", inv, &reply)
	return reply.Value, err
}

func (c *rpcClient) HandleEvent(ev Event) error {
	var reply Empty
	return c.client.Call("Plugin.HandleEvent", ev, &reply)
}

func (c *rpcClient) HandleRoute(path, query string) (string, error) {
	var reply StringReply
	err := c.client.Call("Plugin.HandleRoute", RouteArgs{Path: path, Query: query}, &reply)
	return reply.Value, err
}

func (c *rpcClient) Destroy() error {
	var reply Empty
	return c.client.Call("Plugin.Destroy", Empty{}, &reply)
}

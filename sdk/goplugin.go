package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/rpc"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// PluginName is the key extensions are dispensed under.
const PluginName = "extension"

// Handshake configuration shared by the host and extension processes.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "VVF_EXTENSION",
	MagicCookieValue: "vvf_extension_magic_cookie_v1",
}

// ExtensionPlugin is the go-plugin glue for an Extension served over net/rpc.
type ExtensionPlugin struct {
	Impl Extension
}

// Server returns the RPC server for go-plugin.
func (p *ExtensionPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

// Client returns the RPC client for go-plugin.
func (p *ExtensionPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	PluginName: &ExtensionPlugin{},
}

// Serve is the helper extension main() functions call.
func Serve(impl Extension) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginName: &ExtensionPlugin{Impl: impl},
		},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:       "extension",
			Level:      hclog.Info,
			JSONFormat: true,
		}),
	})
}

// Wire types. net/rpc requires exported argument and reply types.

type InitArgs struct {
	Settings Settings
}

type SearchArgs struct {
	Query string
}

type ItemArgs struct {
	Item MediaItem
}

type CapabilitiesReply struct {
	Kinds []CapabilityKind
}

// RPCServer exposes an Extension to the host side.
type RPCServer struct {
	Impl Extension
}

func (s *RPCServer) Init(args InitArgs, _ *struct{}) error {
	// The host's HTTP client cannot cross the process boundary.
	return s.Impl.Init(args.Settings, &http.Client{Timeout: 30 * time.Second})
}

func (s *RPCServer) Capabilities(_ struct{}, reply *CapabilitiesReply) error {
	reply.Kinds = KindsOf(s.Impl)
	return nil
}

func (s *RPCServer) Search(args SearchArgs, reply *[]MediaItem) error {
	c, ok := s.Impl.(DatabaseClient)
	if !ok {
		return fmt.Errorf("extension does not implement %s", KindDatabase)
	}
	items, err := c.Search(context.Background(), args.Query)
	*reply = items
	return err
}

func (s *RPCServer) LoadLinks(args ItemArgs, reply *[]StreamLink) error {
	c, ok := s.Impl.(StreamClient)
	if !ok {
		return fmt.Errorf("extension does not implement %s", KindStream)
	}
	links, err := c.LoadLinks(context.Background(), args.Item)
	*reply = links
	return err
}

func (s *RPCServer) LoadSubtitles(args ItemArgs, reply *[]Subtitle) error {
	c, ok := s.Impl.(SubtitleClient)
	if !ok {
		return fmt.Errorf("extension does not implement %s", KindSubtitle)
	}
	subs, err := c.LoadSubtitles(context.Background(), args.Item)
	*reply = subs
	return err
}

// RPCClient is the host side of an extension process. It satisfies every
// capability interface and reports the kinds the remote side really serves.
type RPCClient struct {
	client *rpc.Client
	kinds  []CapabilityKind
}

func (c *RPCClient) call(ctx context.Context, method string, args, reply interface{}) error {
	call := c.client.Go("Plugin."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-call.Done:
		return res.Error
	}
}

func (c *RPCClient) Init(settings Settings, _ *http.Client) error {
	if err := c.call(context.Background(), "Init", InitArgs{Settings: settings}, &struct{}{}); err != nil {
		return err
	}
	var reply CapabilitiesReply
	if err := c.call(context.Background(), "Capabilities", struct{}{}, &reply); err != nil {
		return err
	}
	c.kinds = reply.Kinds
	return nil
}

func (c *RPCClient) Capabilities() []CapabilityKind {
	return c.kinds
}

func (c *RPCClient) Search(ctx context.Context, query string) ([]MediaItem, error) {
	var items []MediaItem
	err := c.call(ctx, "Search", SearchArgs{Query: query}, &items)
	return items, err
}

func (c *RPCClient) LoadLinks(ctx context.Context, item MediaItem) ([]StreamLink, error) {
	var links []StreamLink
	err := c.call(ctx, "LoadLinks", ItemArgs{Item: item}, &links)
	return links, err
}

func (c *RPCClient) LoadSubtitles(ctx context.Context, item MediaItem) ([]Subtitle, error) {
	var subs []Subtitle
	err := c.call(ctx, "LoadSubtitles", ItemArgs{Item: item}, &subs)
	return subs, err
}

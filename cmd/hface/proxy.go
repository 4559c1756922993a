package main

import (
	"github.com/spf13/cobra"

	"github.com/akamai/hface/event"
	"github.com/akamai/hface/server"
)

// newProxyCommand mirrors newServerCommand but fixes the app to the
// built-in CONNECT tunnel handler (spec.md §4.10 "CONNECT tunnel (proxy
// mode)") instead of taking an ASGI_APP argument; flags are identical
// (`cli/_options/server.py` is reused as `_options/proxy.py` in the
// original too).
func newProxyCommand() *cobra.Command {
	var o serverOptions

	cmd := &cobra.Command{
		Use:   "proxy ENDPOINT...",
		Short: "run a CONNECT forward proxy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appFor := func(codes event.ErrorCodes) server.App {
				return server.ConnectHandler(nil, codes, nil)
			}
			return runServer(cmd.Context(), &o, appFor, args)
		},
	}
	o.bindProtocolFlags(cmd)
	return cmd
}

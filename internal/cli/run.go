// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dronemesh-project/dronemesh/config"
	"github.com/dronemesh-project/dronemesh/controller"
	"github.com/dronemesh-project/dronemesh/forward"
	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/dronemesh-project/dronemesh/routing"
	"github.com/dronemesh-project/dronemesh/session"
	"github.com/dronemesh-project/dronemesh/topology"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		flagConfig  string
		flagVerbose bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and print the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			store, err := scenario.Build()
			if err != nil {
				return err
			}

			var logger *slog.Logger
			if flagVerbose {
				logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
			}
			return runScenario(cmd.OutOrStdout(), store, scenario.PDRPool, logger)
		},
	}
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "scenario.yml", "scenario file to load")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "emit structured logs on stderr")
	return cmd
}

// runScenario wires the simulation stack over the store and walks
// every client through the protocol operations its kind supports.
func runScenario(w io.Writer, store *topology.Store, pdrPool []float64, logger *slog.Logger) error {
	ctrl := controller.New(store, pdrPool)
	disc := routing.NewDiscoverer(store)
	engine := forward.NewEngine(store)
	engine.Observer = ctrl.ForwardObserver()
	hub := session.NewHub(store, disc, engine)
	if logger != nil {
		ctrl.Logger = logger
		disc.Logger = logger
		engine.Logger = logger
		hub.Logger = logger
	}
	defer func() { _ = ctrl.Shutdown() }()

	for _, id := range store.NodesOfKind(packet.NodeKindTextServer) {
		srv := session.NewTextServer()
		srv.AddFile("readme", []byte("welcome to the mesh"))
		srv.AddFile("topology", []byte("see the scenario file"))
		if err := hub.RegisterServer(id, srv); err != nil {
			return err
		}
	}
	for _, id := range store.NodesOfKind(packet.NodeKindChatServer) {
		if err := hub.RegisterServer(id, session.NewChatServer()); err != nil {
			return err
		}
	}

	if err := runWebClients(w, store, hub, ctrl); err != nil {
		return err
	}
	if err := runChatClients(w, store, hub, ctrl); err != nil {
		return err
	}

	fmt.Fprintln(w, "--- event log ---")
	for _, record := range ctrl.Events() {
		fmt.Fprintln(w, record)
	}
	return nil
}

// runWebClients walks every web client through the text protocol
// against every text server.
func runWebClients(w io.Writer, store *topology.Store, hub *session.Hub, ctrl *controller.Controller) error {
	for _, client := range store.NodesOfKind(packet.NodeKindWebClient) {
		for _, server := range store.NodesOfKind(packet.NodeKindTextServer) {
			sess, err := hub.NewSession(client, server)
			if err != nil {
				return err
			}
			sess.Observer = ctrl.SessionObserver()
			ctrl.Track(sess)

			serverType, err := sess.RequestServerType()
			if err != nil {
				fmt.Fprintf(w, "client %d: server %d unreachable: %s\n", client, server, err)
				continue
			}
			fmt.Fprintf(w, "client %d: server %d is a %s server\n", client, server, serverType)

			files, err := sess.FileList()
			if err != nil {
				return err
			}
			for _, fileID := range files {
				data, err := sess.FetchFile(fileID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "client %d: fetched %q from server %d (%d bytes)\n",
					client, fileID, server, len(data))
			}
		}
	}
	return nil
}

// runChatClients registers every chat client with every chat server
// and exchanges a greeting between each pair of clients.
func runChatClients(w io.Writer, store *topology.Store, hub *session.Hub, ctrl *controller.Controller) error {
	clients := store.NodesOfKind(packet.NodeKindChatClient)
	for _, server := range store.NodesOfKind(packet.NodeKindChatServer) {
		sessions := map[packet.NodeID]*session.Session{}
		for _, client := range clients {
			sess, err := hub.NewSession(client, server)
			if err != nil {
				return err
			}
			sess.Observer = ctrl.SessionObserver()
			ctrl.Track(sess)

			if _, err := sess.RequestServerType(); err != nil {
				fmt.Fprintf(w, "client %d: server %d unreachable: %s\n", client, server, err)
				continue
			}
			if err := sess.Register(); err != nil {
				return err
			}
			fmt.Fprintf(w, "client %d: registered with chat server %d\n", client, server)
			sessions[client] = sess
		}

		for _, from := range clients {
			sess := sessions[from]
			if sess == nil {
				continue
			}
			for _, to := range clients {
				if to == from || sessions[to] == nil {
					continue
				}
				text := fmt.Sprintf("hello %d, this is %d", to, from)
				if err := sess.SendChat(to, text); err != nil {
					return err
				}
				fmt.Fprintf(w, "client %d: sent chat to %d via server %d\n", from, to, server)
			}
		}
	}
	return nil
}

// Command sessionrouter runs the ingress TCP listener: it accepts client
// connections, each handled by a router.Session performing the handshake,
// demultiplexing inbound record Batches to the cleaner queues, and
// multiplexing the five query-result streams back to the client.
package main

import (
	"log/slog"
	"net"
	"strconv"

	"nrgchamp/streampipe/internal/broker"
	"nrgchamp/streampipe/internal/cmdutil"
	"nrgchamp/streampipe/internal/ids"
	"nrgchamp/streampipe/internal/protocol"
	"nrgchamp/streampipe/internal/router"
	"nrgchamp/streampipe/internal/topology"
)

func buildCleanerGroups(brokerCfg broker.Config) map[protocol.Kind]*router.CleanerGroup {
	groups := make(map[protocol.Kind]*router.CleanerGroup, len(protocol.RecordKinds))
	for _, kind := range protocol.RecordKinds {
		prefix := topology.Getenv("CLEANER_PREFIX_"+string(kind), "cleaner-in-"+string(kind))
		n := topology.GetenvInt("CLEANER_WORKERS_"+string(kind), 1)
		endpoints := make([]broker.Endpoint, 0, n)
		for i := 0; i < n; i++ {
			endpoints = append(endpoints, broker.NewQueue(brokerCfg, topology.QueueName(prefix, strconv.Itoa(i))))
		}
		groups[kind] = &router.CleanerGroup{Endpoints: endpoints}
	}
	return groups
}

func buildResultSources() map[protocol.Kind]router.QueryResultSource {
	sources := make(map[protocol.Kind]router.QueryResultSource, len(protocol.QueryResultKinds))
	for _, kind := range protocol.QueryResultKinds {
		sources[kind] = router.QueryResultSource{
			WorkersAmount: topology.GetenvInt("RESULT_WORKERS_"+string(kind), 1),
		}
	}
	return sources
}

func main() {
	boot, err := cmdutil.Start("sessionrouter")
	if err != nil {
		panic(err)
	}
	defer boot.Shutdown()

	brokerCfg := boot.BrokerConfig()
	resultPrefix := topology.Getenv("RESULT_QUEUE_PREFIX", "result")

	cfg := router.Config{
		NewMessageID: ids.New,
		NewSessionID: ids.New,
		Cleaners:     buildCleanerGroups(brokerCfg),
		Results:      buildResultSources(),
		NewResultEgress: func(sessionID string) broker.Endpoint {
			return broker.NewQueue(brokerCfg, topology.QueueName(resultPrefix, sessionID))
		},
		Logger: boot.Logger,
	}

	listenAddr := topology.Getenv("LISTEN_ADDR", ":9000")
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		boot.Logger.Error("listen_failed", slog.String("addr", listenAddr), slog.Any("err", err))
		return
	}
	defer listener.Close()

	go func() {
		<-boot.Ctx.Done()
		listener.Close()
	}()

	boot.MarkReady()
	boot.Logger.Info("sessionrouter_started", slog.String("addr", listenAddr))

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-boot.Ctx.Done():
				return
			default:
				boot.Logger.Error("accept_error", slog.Any("err", err))
				continue
			}
		}
		go func() {
			sess := router.NewSession(cfg, conn)
			if err := sess.Run(boot.Ctx); err != nil {
				boot.Logger.Warn("session_ended_with_error", slog.Any("err", err))
			}
		}()
	}
}

// Command jsontalkie-demo wires a small loopback fabric: two Talkers
// bound to the built-in Manifestos, one in-memory Socket whose far end
// plays the part of an attached console, and a Repeater driven by a
// tick loop. This is host glue, not core: the equivalent of the
// original's Arduino sketches.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jsontalkie/jsontalkie/internal/loopback"
	"github.com/jsontalkie/jsontalkie/internal/manifesto/builtin"
	"github.com/jsontalkie/jsontalkie/internal/obs"
	"github.com/jsontalkie/jsontalkie/internal/protocol"
	"github.com/jsontalkie/jsontalkie/internal/repeater"
	"github.com/jsontalkie/jsontalkie/internal/socket"
	"github.com/jsontalkie/jsontalkie/internal/talker"
)

func main() {
	tickInterval := flag.Duration("tick-interval", 50*time.Millisecond, "Repeater tick period")
	maxDelay := flag.Int64("max-delay-ms", 5, "Call-kind delay tolerance, in milliseconds")
	metricsEnabled := flag.Bool("metrics", false, "Enable OpenTelemetry metrics")
	metricsExporter := flag.String("metrics-exporter", string(obs.ExporterStdout), "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	tracingEnabled := flag.Bool("tracing", false, "Enable OpenTelemetry tracing")
	tracingExporter := flag.String("tracing-exporter", string(obs.ExporterStdout), "Trace exporter: none, stdout, otlp-grpc, otlp-http")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics, err := obs.New(ctx, &obs.Config{
		Enabled:      *metricsEnabled,
		ServiceName:  "jsontalkie-demo",
		ExporterType: obs.ExporterType(*metricsExporter),
	})
	if err != nil {
		slog.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer metrics.Shutdown(context.Background())

	tracer, err := obs.NewTracer(ctx, &obs.TracerConfig{
		Enabled:      *tracingEnabled,
		ServiceName:  "jsontalkie-demo",
		ExporterType: obs.ExporterType(*tracingExporter),
		SampleRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	// One wire, two ends: the fabric socket owns wireFabric, and the
	// console end stays in our hands so replies can be read back off it.
	wireConsole, wireFabric := loopback.New(), loopback.New()
	loopback.Link(wireConsole, wireFabric)

	sock := socket.New("wire0", socket.DownLinked, wireFabric,
		socket.WithMaxDelay(*maxDelay), socket.WithMetrics(metrics), socket.WithTracer(tracer.Tracer()))

	alpha := talker.New("alpha", "Demo host talker", builtin.NewHostManifesto())
	beta := talker.New("beta", "Demo echo talker", builtin.NewEchoManifesto(), talker.WithChannel(7))

	rep := repeater.New(
		nil, []*socket.Socket{sock},
		nil, []*talker.Talker{alpha, beta},
		repeater.WithMetrics(metrics),
		repeater.WithTracer(tracer.Tracer()),
	)

	slog.Info("jsontalkie-demo running", "talkers", []string{alpha.Name(), beta.Name()}, "tick_interval", *tickInterval)

	// The console originates traffic the same way any external peer
	// would: by placing a fully-formed datagram on the wire, not by
	// calling a Talker's Handle directly (that is reserved for messages
	// the fabric itself routes to a Talker).
	ping := protocol.New()
	ping.SetUint(protocol.KeyKind, uint64(protocol.KindPing))
	ping.SetUint(protocol.KeyBroadcast, uint64(protocol.BroadcastLocal))
	ping.SetName(protocol.KeyFrom, "console")
	ping.SetName(protocol.KeyTo, beta.Name())
	ping.SetUint(protocol.KeyIdentity, uint64(nowMs()&0xFFFF))
	if !ping.InsertChecksum() {
		slog.Error("failed to stamp checksum on the seed ping")
		os.Exit(1)
	}
	data := make([]byte, ping.Len())
	ping.Serialize(data)
	if err := wireConsole.Send(data); err != nil {
		slog.Error("failed to send the seed ping", "error", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("jsontalkie-demo shutting down")
			return
		case t := <-ticker.C:
			rep.Tick(t.UnixMilli())
			for {
				reply, ok := wireConsole.TryRecv()
				if !ok {
					break
				}
				slog.Info("console received", "datagram", string(reply))
			}
		}
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/worldmap/featureflag"
	wmhttp "github.com/aukilabs/worldmap/http"
	"github.com/aukilabs/worldmap/models"
	"github.com/aukilabs/worldmap/smoketest"
	wmwebsocket "github.com/aukilabs/worldmap/websocket"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The worldmap version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "worldmap_info",
		Help:        "Worldmap server information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// Keeps the config struct keys readable by the cli package when the binary is
// obfuscated.
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"WORLDMAP_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"WORLDMAP_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"WORLDMAP_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	ServerID           string        `cli:""        env:"WORLDMAP_SERVER_ID"            help:"The server id used as global session id prefix. Generated when empty."`
	PrivateKey         string        `cli:""        env:"WORLDMAP_PRIVATE_KEY"          help:"The private key of an Ethereum-compatible wallet used to sign latency measurements."`
	PrivateKeyFile     string        `cli:""        env:"WORLDMAP_PRIVATE_KEY_FILE"     help:"The file that contains the private key used to sign latency measurements."`
	RequireAppKey      bool          `cli:""        env:"WORLDMAP_REQUIRE_APP_KEY"      help:"Refuse clients without an app key in their user token."`
	LogLevel           string        `cli:""        env:"WORLDMAP_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"WORLDMAP_LOG_INDENT"           help:"Indent logs."`
	SyncClockInterval  time.Duration `cli:",hidden" env:"WORLDMAP_SYNC_CLOCK_INTERVAL"  help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"WORLDMAP_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected"`
	FrameDuration      time.Duration `cli:",hidden" env:"WORLDMAP_FRAME_DURATION"       help:"The duration of a session frame. Area events are sent once per frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"WORLDMAP_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	SmokeTestTimeout   time.Duration `cli:",hidden" env:"WORLDMAP_SMOKE_TEST_TIMEOUT"   help:"The maximum duration of a smoke test."`
	Events             eventsConfig  `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"WORLDMAP_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                             help:"Show version."`
	Help               bool          `cli:""        env:"-"                             help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"WORLDMAP_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"WORLDMAP_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"WORLDMAP_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"WORLDMAP_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		LogSummaryInterval: time.Minute,
		SmokeTestTimeout:   time.Second * 10,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the worldmap server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	privateKey, err := loadPrivateKey(conf)
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "worldmap",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	serverID := conf.ServerID
	if serverID == "" {
		serverID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	sessions := models.SessionStore{
		ServerID: serverID,
	}

	var ready atomic.Bool
	readinessCheck := ready.Load

	var service http.ServeMux
	service.Handle("/health", wmhttp.HandleWithCORS(http.HandlerFunc(wmhttp.HandleHealthCheck)))
	service.Handle("/version", wmhttp.HandleWithCORS(http.HandlerFunc(wmhttp.HandleVersion(version))))
	service.Handle("/ready", wmhttp.HandleWithCORS(http.HandlerFunc(wmhttp.HandleReadyCheck(readinessCheck))))

	var smokeTest http.Handler = smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  websocketEndpoint(conf.PublicEndpoint),
		UserAgent: fmt.Sprintf("Worldmap %s", version),
		Timeout:   conf.SmokeTestTimeout,
	})
	if conf.RequireAppKey {
		smokeTest = wmhttp.RequireAppKeyHandler(smokeTest)
	}
	service.Handle("/smoke-test", smokeTest)

	handshake := func(c *websocket.Config, r *http.Request) error {
		return nil
	}
	if conf.RequireAppKey {
		handshake = wmhttp.RequireAppKey
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	service.Handle("/", wmhttp.HandleWithCORS(websocket.Server{
		Handshake: handshake,
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh wmwebsocket.Handler = &wmwebsocket.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				FrameDuration:           conf.FrameDuration,
				Sessions:                &sessions,
				FeatureFlags:            featureFlags,
				PrivateKey:              privateKey,
			}
			h := wmwebsocket.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = wmwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			wmwebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", wmhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", wmhttp.HandleReadyCheck(readinessCheck))

	entry := logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", serverID).
		WithTag("feature_flags", conf.FeatureFlags)
	if privateKey != nil {
		entry = entry.WithTag("wallet_address", strings.ToLower(crypto.PubkeyToAddress(privateKey.PublicKey).Hex()))
	}
	entry.Info("starting worldmap server")

	ready.Store(true)
	wmhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			wmhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

// loadPrivateKey returns the configured private key, or nil when none is
// configured.
func loadPrivateKey(conf config) (*ecdsa.PrivateKey, error) {
	privateKey := conf.PrivateKey

	if len(conf.PrivateKeyFile) != 0 {
		privateKeyBytes, err := os.ReadFile(conf.PrivateKeyFile)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithTag("file_name", conf.PrivateKeyFile).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	if len(privateKey) == 0 {
		return nil, nil
	}

	return crypto.HexToECDSA(privateKey)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return errors.New("have to specify either private key or private key file, not both")
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if strings.ContainsAny(conf.ServerID, "x/") {
		return errors.New("server id cannot contain 'x' or '/'").
			WithTag("server_id", conf.ServerID)
	}

	return nil
}

// websocketEndpoint returns the websocket url of a public http endpoint.
func websocketEndpoint(publicEndpoint string) string {
	switch {
	case strings.HasPrefix(publicEndpoint, "https://"):
		return "wss://" + strings.TrimPrefix(publicEndpoint, "https://")

	case strings.HasPrefix(publicEndpoint, "http://"):
		return "ws://" + strings.TrimPrefix(publicEndpoint, "http://")

	default:
		return publicEndpoint
	}
}

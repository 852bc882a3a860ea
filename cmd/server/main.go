// Command server runs the rendezvous/relay server. The flag surface
// is intentionally minimal (see SPEC_FULL.md §4.8.3): full CLI design
// is out of scope, this just lets an operator override the handful of
// settings worth overriding without editing a config file.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/UR-xiaoyang/P2P-Handshake-Server/config"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/internal/obs"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/metrics"
	"github.com/UR-xiaoyang/P2P-Handshake-Server/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "p2p-handshake-server",
		Short: "UDP rendezvous and relay server for a peer-to-peer overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("address", "", "listen address (overrides config/default)")
	flags.Int("max-connections", 0, "maximum number of peers (overrides config/default)")
	flags.String("network-id", "", "network identifier peers must match at handshake")
	flags.String("config", "", "path to a config file")
	flags.Bool("verbose", false, "enable debug logging")
	_ = v.BindPFlag("address", flags.Lookup("address"))
	_ = v.BindPFlag("max_connections", flags.Lookup("max-connections"))
	_ = v.BindPFlag("network_id", flags.Lookup("network-id"))
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))

	return cmd
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		os.Exit(2)
		return err
	}
	if addr := v.GetString("address"); addr != "" {
		cfg.ListenAddress = addr
	}
	if n := v.GetInt("max_connections"); n > 0 {
		cfg.MaxConnections = n
	}
	if id := v.GetString("network_id"); id != "" {
		cfg.NetworkID = id
	}

	log := obs.New(v.GetBool("verbose"))
	log.Info("启动P2P握手服务器...")
	log.WithField("config", cfg).Info("最终配置")

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	d, err := server.New(cfg, log, metricsReg)
	if err != nil {
		log.WithError(err).Fatal("绑定UDP套接字失败")
		os.Exit(1)
		return err
	}

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				log.WithError(err).Warn("metrics http server stopped")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		d.Shutdown()
	}()

	log.WithField("address", cfg.ListenAddress).Info("服务器正在监听地址")
	return d.Run()
}

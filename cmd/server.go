package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SampleEnvironment/frappy-go/config"
	_ "github.com/SampleEnvironment/frappy-go/demo" // register demo classes
	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/metrics"
	"github.com/SampleEnvironment/frappy-go/module"
	"github.com/SampleEnvironment/frappy-go/server"
)

var serverCmd = &cobra.Command{
	Use:   "server <config.toml>",
	Short: "Run a SEC node",
	Long: `Run a SEC node: load the configuration, build the configured
modules and serve them until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runServer,
}

var (
	serverBind    string
	serverMetrics string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverBind, "bind", "", "listen address, overrides the interface setting of the configuration")
	serverCmd.Flags().StringVar(&serverMetrics, "metrics", "", "Prometheus listen address, overrides the configuration")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	log := logging.Default()

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	reg := module.NewRegistry(log)
	for _, mc := range cfg.Modules {
		if err := reg.Create(mc.Class, mc.Name, mc.Options); err != nil {
			return err
		}
	}

	addr := cfg.Node.ListenAddr()
	if serverBind != "" {
		addr = serverBind
	}
	n := server.NewNode(reg, server.NodeInfo{
		EquipmentID: cfg.Node.EquipmentID,
		Description: cfg.Node.Description,
		Firmware:    cfg.Node.Firmware,
		Implementor: cfg.Node.Implementor,
	}, addr, log)

	metricsAddr := cfg.Node.Metrics
	if serverMetrics != "" {
		metricsAddr = serverMetrics
	}
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				log.Error("metrics endpoint failed", "addr", metricsAddr, "err", err)
			}
		}()
		log.Info("metrics endpoint", "addr", metricsAddr)
	}

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	log.Info("node is up", "equipment_id", cfg.Node.EquipmentID, "addr", n.Addr())

	<-ctx.Done()
	log.Info("shutting down")
	n.Shutdown()
	return nil
}

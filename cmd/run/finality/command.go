package finality

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/crosslane/relayer/chain/substrate"
	"github.com/crosslane/relayer/relays/finality"
)

var (
	configFile     string
	privateKey     string
	privateKeyFile string
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finality",
		Short: "Start the finality relay",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to configuration file")
	cmd.MarkFlagRequired("config")

	cmd.Flags().StringVar(&privateKey, "substrate.private-key", "", "Private key URI for the sink chain")
	cmd.Flags().StringVar(&privateKeyFile, "substrate.private-key-file", "", "The file from which to read the private key URI")

	return cmd
}

func run(_ *cobra.Command, _ []string) error {
	log.SetOutput(logrus.WithFields(logrus.Fields{"logger": "stdlib"}).WriterLevel(logrus.InfoLevel))
	logrus.SetLevel(logrus.DebugLevel)

	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return err
	}

	var config finality.Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	keypair, err := substrate.ResolvePrivateKey(privateKey, privateKeyFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)

	// Ensure clean termination upon SIGINT, SIGTERM
	eg.Go(func() error {
		notify := make(chan os.Signal, 1)
		signal.Notify(notify, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-notify:
			logrus.WithField("signal", sig.String()).Info("Received signal")
			cancel()
		}

		return nil
	})

	sourceConn := substrate.NewConnection(config.Source.Chain.Endpoint, nil)
	if err := sourceConn.Connect(ctx); err != nil {
		return err
	}

	sinkConn := substrate.NewConnection(config.Sink.Chain.Endpoint, keypair.AsKeyringPair())
	if err := sinkConn.Connect(ctx); err != nil {
		return err
	}

	writer := substrate.NewWriter(sinkConn, config.Sink.Chain.MaxWatchedExtrinsics)
	if err := writer.Start(ctx); err != nil {
		return err
	}

	relay := finality.NewRelay(
		&config,
		substrate.NewFinalitySource(sourceConn),
		substrate.NewFinalityTarget(sinkConn, writer),
		finality.NewMetrics(prometheus.DefaultRegisterer),
	)

	err = relay.Start(ctx, eg)
	if err != nil {
		logrus.WithError(err).Fatal("Unhandled error")
		cancel()
		return err
	}

	err = eg.Wait()
	if err != nil {
		logrus.WithError(err).Fatal("Unhandled error")
		return err
	}

	return nil
}

package messages

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	bridgemessages "github.com/crosslane/relayer/bridge/messages"
	"github.com/crosslane/relayer/chain/substrate"
	"github.com/crosslane/relayer/relays/messages"
)

var (
	configFile     string
	privateKey     string
	privateKeyFile string
)

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Start the message relay",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to configuration file")
	cmd.MarkFlagRequired("config")

	cmd.Flags().StringVar(&privateKey, "substrate.private-key", "", "Private key URI used on both chains")
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

	var config messages.Config
	err := viper.Unmarshal(&config, viper.DecodeHook(LaneHookFunc()))
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

	var relayer bridgemessages.RelayerID
	copy(relayer[:], keypair.AsKeyringPair().PublicKey)

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

	sourceConn := substrate.NewConnection(config.Source.Chain.Endpoint, keypair.AsKeyringPair())
	if err := sourceConn.Connect(ctx); err != nil {
		return err
	}

	sinkConn := substrate.NewConnection(config.Sink.Chain.Endpoint, keypair.AsKeyringPair())
	if err := sinkConn.Connect(ctx); err != nil {
		return err
	}

	sourceWriter := substrate.NewWriter(sourceConn, config.Source.Chain.MaxWatchedExtrinsics)
	if err := sourceWriter.Start(ctx); err != nil {
		return err
	}

	sinkWriter := substrate.NewWriter(sinkConn, config.Sink.Chain.MaxWatchedExtrinsics)
	if err := sinkWriter.Start(ctx); err != nil {
		return err
	}

	relay := messages.NewRelay(
		&config,
		substrate.NewMessagesSource(sourceConn, sourceWriter, config.Dispatch()),
		substrate.NewMessagesTarget(sinkConn, sinkWriter),
		relayer,
		messages.NewMetrics(prometheus.DefaultRegisterer),
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

// LaneHookFunc decodes hex lane identifiers from the configuration file.
func LaneHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(bridgemessages.LaneID{}) {
			return data, nil
		}

		raw, err := HexDecodeString(data.(string))
		if err != nil {
			return nil, err
		}

		var out bridgemessages.LaneID
		copy(out[:], raw)
		return out, nil
	}
}

// HexDecodeString decodes bytes from a hex string. Contrary to hex.DecodeString, this function does not error if "0x"
// is prefixed, and adds an extra 0 if the hex string has an odd length.
func HexDecodeString(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")

	if len(s)%2 != 0 {
		s = "0" + s
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}

	return b, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/mbackup/client"
	"github.com/luma/mbackup/devicelink"
	"github.com/luma/mbackup/internal/env"
	"github.com/luma/mbackup/protocol"
)

var ErrOptionsNotObject = errors.New("options must be a JSON object")

var (
	probeDevice  string
	probePort    uint16
	probeVerb    string
	probeTarget  string
	probeSource  string
	probeOptions string
	probeTimeout time.Duration
)

func init() {
	flags := ProbeCmd.Flags()

	flags.StringVarP(&probeDevice, "device", "d", "", "The device host, overrides MBACKUP_DEVICE")
	flags.Uint16VarP(&probePort, "port", "p", 0, "The backup service port, overrides MBACKUP_PORT")
	flags.StringVar(&probeVerb, "verb", string(protocol.Info), "The request to send (Backup, Restore, Info or List)")
	flags.StringVarP(&probeTarget, "target", "t", "", "The target device identifier")
	flags.StringVar(&probeSource, "source", "", "The source device identifier")
	flags.StringVar(&probeOptions, "options", "", `Request options as a JSON object, e.g. '{"ForceFullBackup": true}'`)
	flags.DurationVar(&probeTimeout, "timeout", 10*time.Second, "Time allowed to open the device link")

	if err := ProbeCmd.MarkFlagRequired("target"); err != nil {
		panic(err)
	}
}

var ProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a backup service, send one request and print the reply",
	Long: `Connect to a backup service, negotiate the protocol version, send one
request and print the first reply as JSON.

Usage
	mbackup probe --device 10.0.0.2 --port 62078 --target <udid> --verb Info

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(debug)
		if err != nil {
			return err
		}
		defer log.Sync()

		if probeDevice != "" {
			conf.Device = probeDevice
		}
		if probePort != 0 {
			conf.Port = probePort
		}

		options, err := parseOptions(probeOptions)
		if err != nil {
			return err
		}

		conn := client.New(client.Options{
			Dialer:             &devicelink.TCPDialer{Timeout: probeTimeout, Log: log.Named("devicelink")},
			MinProtocolVersion: conf.MinProtocolVersion,
			Log:                log.Named("client"),
		})

		if err := conn.Connect(ctx, conf.Device, conf.Port); err != nil {
			return err
		}

		defer func() {
			err = multierr.Append(err, conn.Disconnect())
		}()

		if err := conn.SendRequest(protocol.Verb(probeVerb), probeTarget, probeSource, options); err != nil {
			return err
		}

		reply, name, err := conn.ReceiveMessage()
		if err != nil {
			return err
		}

		log.Debug("Reply", zap.String("message", name), zap.Any("reply", reply))

		out, err := formatReply(conn.ProtocolVersion(), name, reply)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

// parseOptions parses the --options flag. An empty string means no options.
//
// JSON numbers become reals.
func parseOptions(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}

	if !gjson.Valid(s) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrOptionsNotObject)
	}

	result := gjson.Parse(s)
	if !result.IsObject() {
		return nil, ErrOptionsNotObject
	}

	options, _ := result.Value().(map[string]interface{})

	return options, nil
}

func formatReply(version float64, name string, reply interface{}) ([]byte, error) {
	out, err := sjson.SetBytes([]byte("{}"), "protocolVersion", version)
	if err != nil {
		return nil, err
	}

	if out, err = sjson.SetBytes(out, "message", name); err != nil {
		return nil, err
	}

	return sjson.SetBytes(out, "reply", reply)
}

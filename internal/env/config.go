package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// Device is the host of the device link to connect to
	Device string `env:"MBACKUP_DEVICE,default=127.0.0.1"`

	// Port is the port of the backup service on the device
	Port uint16 `env:"MBACKUP_PORT,default=62078"`

	// MinProtocolVersion rejects devices negotiating older versions, 0 disables the check
	MinProtocolVersion float64 `env:"MBACKUP_MIN_PROTOCOL_VERSION"`

	// PeerProtocolVersion is the highest version the emulated peer accepts
	PeerProtocolVersion float64 `env:"MBACKUP_PEER_PROTOCOL_VERSION,default=2.1"`

	DebugHTTP bool `env:"MBACKUP_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

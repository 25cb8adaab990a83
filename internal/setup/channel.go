// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tombee/beacon/internal/channel"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/pkg/telemetry"
)

// ChannelParams are the inputs of NewChannel besides the options.
type ChannelParams struct {
	// Counter counts dropped items. Optional.
	Counter channel.DropCounter

	ServiceName    string
	ServiceVersion string
	Logger         *slog.Logger
}

// NewChannel builds the channel selected by opts.Channel.Type.
func NewChannel(ctx context.Context, opts *config.Options, p ChannelParams) (telemetry.Channel, error) {
	co := opts.Channel
	switch co.Type {
	case "", config.ChannelMemory:
		return channel.NewInMemoryChannel(channel.MemoryConfig{
			Capacity:      co.Capacity,
			MaxBatch:      co.MaxBatch,
			FlushInterval: co.FlushInterval,
			Transmitter:   transmitter(co),
			Counter:       p.Counter,
			Logger:        p.Logger,
		}), nil

	case config.ChannelSQLite:
		ch, err := channel.NewSQLiteChannel(channel.SQLiteConfig{
			Path:          co.SQLite.Path,
			Capacity:      co.Capacity,
			MaxBatch:      co.MaxBatch,
			FlushInterval: co.FlushInterval,
			MaxStored:     co.SQLite.MaxStored,
			Transmitter:   transmitter(co),
			Counter:       p.Counter,
			Logger:        p.Logger,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil

	case config.ChannelOTel:
		ch, err := channel.NewOTelChannel(ctx, channel.OTelConfig{
			Exporter: channel.ExporterConfig{
				Type:       co.OTel.Exporter,
				Endpoint:   co.OTel.Endpoint,
				Insecure:   co.OTel.Insecure,
				CACertPath: co.OTel.CACertPath,
				Headers:    co.OTel.Headers,
			},
			ServiceName:    p.ServiceName,
			ServiceVersion: p.ServiceVersion,
			Logger:         p.Logger,
		})
		if err != nil {
			return nil, err
		}
		return ch, nil

	default:
		return nil, fmt.Errorf("unknown channel type %q", co.Type)
	}
}

func transmitter(co config.ChannelOptions) channel.Transmitter {
	if co.Output == "stdout" {
		return channel.NewWriterTransmitter(os.Stdout)
	}
	return channel.NewHTTPTransmitter("", nil)
}

// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Command sqlxdemo wires an Engine for a configured instance and drives
// one non-query and one streaming query against it. It exists to
// exercise the engine end to end, not as a production entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sqlxcore/sqlxcore/internal/config"
	"github.com/sqlxcore/sqlxcore/internal/cursorstore"
	"github.com/sqlxcore/sqlxcore/internal/engine"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

type orderRow struct {
	ID     int64
	Status string
}

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("sqlxdemo exited with an error")
	}
}

func run() error {
	flags := pflag.NewFlagSet("sqlxdemo", pflag.ExitOnError)
	cfg := &config.Config{}
	cfg.Bind(flags)
	instance := flags.String("instance", "demo", "the InstanceId to drive the demo query against")
	metricsAddr := flags.String("metricsAddr", ":9399", "listen address for the Prometheus /metrics endpoint")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	v := viper.New()
	if err := config.Layer(v, flags); err != nil {
		return err
	}
	if err := cfg.Preflight(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	eng, cleanup, err := engine.New(ctx, cfg, types.InstanceId(*instance))
	if err != nil {
		return errors.Wrap(err, "wiring engine")
	}
	defer cleanup()

	affected, err := eng.Executor.NonQuery(ctx, types.ExecutionRequest{
		Instance:    types.InstanceId(*instance),
		CommandText: "UPDATE dbo.Orders SET Status = @status WHERE Status = @previousStatus",
		CommandKind: types.CommandText,
		Parameters: map[string]any{
			"status":         "shipped",
			"previousStatus": "packed",
		},
	})
	if err != nil {
		return errors.Wrap(err, "running demo non-query")
	}
	log.WithField("rowsAffected", affected).Info("updated packed orders to shipped")

	it, err := eng.Executor.StreamingQuery(ctx, types.ExecutionRequest{
		Instance:    types.InstanceId(*instance),
		CommandText: "SELECT Id, Status FROM dbo.Orders WHERE Status = @status",
		CommandKind: types.CommandText,
		Parameters:  map[string]any{"status": "shipped"},
	}, reflect.TypeOf(orderRow{}))
	if err != nil {
		return errors.Wrap(err, "running demo streaming query")
	}
	defer it.Close()

	count := 0
	for it.Next() {
		count++
		log.WithField("order", it.Current()).Debug("shipped order")
	}
	if it.Err() != nil {
		return errors.Wrap(it.Err(), "iterating demo streaming query")
	}
	log.WithField("count", count).Info("shipped orders returned")

	_, persisted := eng.CursorStore.(*cursorstore.PgxStore)
	log.WithField("cursorStorePersisted", persisted).Info("sqlxdemo finished")
	return nil
}

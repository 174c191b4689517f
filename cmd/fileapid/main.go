// Copyright 2018-2024 CERN
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
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencloud-eu/fileapi/internal/http/services/fileapi"
	"github.com/opencloud-eu/fileapi/pkg/config"
	"github.com/opencloud-eu/fileapi/pkg/logger"
	"github.com/opencloud-eu/fileapi/pkg/resumable"
)

var (
	versionFlag = flag.Bool("version", false, "show version and exit")
	configFlag  = flag.String("c", "/etc/fileapi/fileapi.yaml", "set configuration file")

	// Compile time variables initialized with ldflags.
	gitCommit, version string
)

const sweepInterval = 10 * time.Minute

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("version=%s commit=%s\n", version, gitCommit)
		os.Exit(0)
	}

	// the config file may also be given as the sole positional argument
	confPath := *configFlag
	if flag.NArg() > 0 {
		confPath = flag.Arg(0)
	}

	conf, err := config.Read(confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	logMode := logger.JSONMode
	if conf.LogMode == string(logger.ConsoleMode) {
		logMode = logger.ConsoleMode
	}
	log := logger.New(
		logger.WithLevel(conf.LogLevel),
		logger.WithWriter(os.Stderr, logMode),
	)

	svc, err := fileapi.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error wiring service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go resumable.RunSweeper(ctx, svc.Resumables(), sweepInterval, log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: svc.Handler(),
		// per-read deadlines on upload bodies are managed by the
		// handlers, a global read timeout would kill long streams
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", conf.Port).Msg("fileapid listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

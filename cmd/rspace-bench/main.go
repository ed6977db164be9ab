/*
 * Copyright 2024 The F1r3fly Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// rspace-bench drives concurrent produce/consume traffic against a Space
// and reports throughput: a grpool.Pool of workers firing jobs at a shared
// engine while atomic counters tally produces and matches.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ivpusic/grpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/dylon/f1r3fly/rspace"
	"github.com/dylon/f1r3fly/rspace/history"
	"github.com/dylon/f1r3fly/rspace/metrics"
)

var (
	configPath string
	workers    int
	jobQueue   int
	channels   int
	ops        int64
	showVer    bool
)

const name = "rspace-bench"

func init() {
	logrus.SetLevel(logrus.InfoLevel)

	flag.StringVar(&configPath, "config", "", "optional YAML config path (defaults used if empty)")
	flag.IntVar(&workers, "workers", runtime.NumCPU(), "grpool worker count")
	flag.IntVar(&jobQueue, "queue", 256, "grpool job queue depth")
	flag.IntVar(&channels, "channels", 64, "number of distinct channel names to spread load across")
	flag.Int64Var(&ops, "ops", 200000, "total produce+consume operations to run")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
}

func main() {
	flag.Parse()
	if showVer {
		fmt.Printf("%v %v %v\n", name, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg := rspace.DefaultConfig()
	if configPath != "" {
		loaded, err := rspace.LoadConfig(configPath)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}

	repo, err := newRepository(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open history repository")
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	src := metrics.NewSource(cfg.MetricsSource, registry)

	space, err := rspace.NewSpaceWithConfig(cfg, repo, rspace.WildcardMatcher{}, src)
	if err != nil {
		logrus.WithError(err).Fatal("failed to construct space")
	}
	defer space.Close()

	names := make([]rspace.Channel, channels)
	for i := range names {
		names[i] = rspace.StrChan(fmt.Sprintf("bench-chan-%d", i))
	}

	pool := grpool.NewPool(workers, jobQueue)
	defer pool.Release()

	var matches, produces int64
	start := time.Now()

	var i int64
	for i = 0; i < ops; i++ {
		idx := i
		pool.WaitCount(1)
		pool.JobQueue <- func() {
			defer pool.JobDone()
			runOp(space, names, idx, &matches, &produces)
		}
		if i%10000 == 0 {
			logrus.WithFields(logrus.Fields{"op": i, "elapsed": time.Since(start)}).Info("progress")
		}
	}
	pool.WaitAll()

	elapsed := time.Since(start)
	logrus.WithFields(logrus.Fields{
		"ops":      ops,
		"matches":  atomic.LoadInt64(&matches),
		"produces": atomic.LoadInt64(&produces),
		"elapsed":  elapsed,
		"opsPerSec": float64(ops) / elapsed.Seconds(),
	}).Info("rspace-bench finished")
}

// runOp alternates between consuming and producing on a randomly chosen
// channel, mirroring the unpredictable interleaving this package's concurrency
// model is built to serialize safely.
func runOp(space *rspace.Space, names []rspace.Channel, idx int64, matches, produces *int64) {
	ctx := context.Background()
	r := rand.New(rand.NewSource(time.Now().UnixNano() + idx))
	c := names[r.Intn(len(names))]

	if idx%2 == 0 {
		res, err := space.Consume(ctx, []rspace.Channel{c}, []interface{}{rspace.Wildcard{}}, idx, false, nil)
		if err != nil {
			logrus.WithError(err).Warn("consume failed")
			return
		}
		if res != nil {
			atomic.AddInt64(matches, 1)
		}
		return
	}

	res, err := space.Produce(ctx, c, idx, false)
	if err != nil {
		logrus.WithError(err).Warn("produce failed")
		return
	}
	atomic.AddInt64(produces, 1)
	if res != nil {
		atomic.AddInt64(matches, 1)
	}
}

func newRepository(cfg rspace.Config) (history.Repository, error) {
	switch cfg.HistoryBackend {
	case rspace.HistoryBackendLevelDB:
		return history.NewLevelDBRepository(cfg.HistoryPath)
	default:
		return history.NewMemRepository(), nil
	}
}

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

package rspace

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// HistoryBackend names which history.Repository implementation a Config
// selects.
type HistoryBackend string

const (
	// HistoryBackendMem backs the engine with history.MemRepository.
	HistoryBackendMem HistoryBackend = "mem"
	// HistoryBackendLevelDB backs the engine with history.LevelDBRepository.
	HistoryBackendLevelDB HistoryBackend = "leveldb"
)

// Config holds the YAML-loadable configuration for one Space. It is never
// a package-level global: callers build a Space from a Config value
// explicitly, passing every dependency in as a constructor argument.
type Config struct {
	// HistoryBackend selects mem or leveldb.
	HistoryBackend HistoryBackend `yaml:"HistoryBackend"`
	// HistoryPath is the LevelDB directory; ignored for the mem backend.
	HistoryPath string `yaml:"HistoryPath"`
	// MetricsSource is the metrics label prefix.
	MetricsSource string `yaml:"MetricsSource"`
	// IdleLockCacheSize bounds rspace/hashlock's per-hash mutex pool.
	IdleLockCacheSize int `yaml:"IdleLockCacheSize"`
}

// DefaultConfig returns the configuration LoadConfig starts from: an
// in-memory history with no durable backing, the "rspace" metrics prefix
// and a 4096-entry idle lock cache.
func DefaultConfig() Config {
	return Config{
		HistoryBackend:    HistoryBackendMem,
		MetricsSource:     "rspace",
		IdleLockCacheSize: 4096,
	}
}

// LoadConfig loads a Config from a YAML file at configPath.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	raw, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Config{}, errors.Wrap(err, "read rspace config failed")
	}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal rspace config failed")
	}
	return config, nil
}

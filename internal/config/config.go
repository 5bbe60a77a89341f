package config

import (
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogZapMode               string `mapstructure:"LOG_ZAP_MODE"`
	PrintConfigurationToLogs string `mapstructure:"PRINT_CONFIGURATION_TO_LOGS"`
	EthereumNodeUrl          string `mapstructure:"ETHEREUM_NODE_URL"`
	RPCPort                  int    `mapstructure:"RPC_PORT"`

	NFTContractAddress    string `mapstructure:"NFT_CONTRACT_ADDRESS"`
	RouterContractAddress string `mapstructure:"ROUTER_CONTRACT_ADDRESS"`
	PaymentTokenAddress   string `mapstructure:"PAYMENT_TOKEN_ADDRESS"`

	LogWindowBlocks        uint64 `mapstructure:"LOG_WINDOW_BLOCKS"`
	CacheStaleAfterSeconds int    `mapstructure:"CACHE_STALE_AFTER_SECONDS"`
	RefreshSignalDelayMs   int    `mapstructure:"REFRESH_SIGNAL_DELAY_MS"`
	RPCTimeoutSeconds      int    `mapstructure:"RPC_TIMEOUT_SECONDS"`
	RPCMaxRetries          int    `mapstructure:"RPC_MAX_RETRIES"`
	EnrichmentConcurrency  int    `mapstructure:"ENRICHMENT_CONCURRENCY"`
	IPFSGatewayUrl         string `mapstructure:"IPFS_GATEWAY_URL"`
	MetadataTimeoutSeconds int    `mapstructure:"METADATA_TIMEOUT_SECONDS"`

	CacheBackend string `mapstructure:"CACHE_BACKEND"`
	CacheDbPath  string `mapstructure:"CACHE_DB_PATH"`

	SignalsNatsUrl     string `mapstructure:"SIGNALS_NATS_URL"`
	SignalsNatsSubject string `mapstructure:"SIGNALS_NATS_SUBJECT"`
}

const (
	DefaultRPCPort               = 8080
	DefaultLogWindowBlocks       = uint64(1000)
	DefaultCacheStaleAfter       = 5 * time.Minute
	DefaultRefreshSignalDelay    = 2 * time.Second
	DefaultRPCTimeout            = 30 * time.Second
	DefaultRPCMaxRetries         = 3
	DefaultEnrichmentConcurrency = 8
	DefaultIPFSGatewayUrl        = "https://ipfs.io"
	DefaultMetadataTimeout       = 10 * time.Second
	DefaultCacheBackend          = "badger"
	DefaultCacheDbPath           = "./db/cache"
	DefaultSignalsNatsSubject    = "royalties.signals"
)

func (c Config) Port() int {
	if c.RPCPort <= 0 {
		return DefaultRPCPort
	}
	return c.RPCPort
}

func (c Config) LogWindow() uint64 {
	if c.LogWindowBlocks == 0 {
		return DefaultLogWindowBlocks
	}
	return c.LogWindowBlocks
}

func (c Config) StaleAfter() time.Duration {
	if c.CacheStaleAfterSeconds <= 0 {
		return DefaultCacheStaleAfter
	}
	return time.Duration(c.CacheStaleAfterSeconds) * time.Second
}

func (c Config) SignalDelay() time.Duration {
	if c.RefreshSignalDelayMs <= 0 {
		return DefaultRefreshSignalDelay
	}
	return time.Duration(c.RefreshSignalDelayMs) * time.Millisecond
}

func (c Config) RPCTimeout() time.Duration {
	if c.RPCTimeoutSeconds <= 0 {
		return DefaultRPCTimeout
	}
	return time.Duration(c.RPCTimeoutSeconds) * time.Second
}

func (c Config) MaxRetries() int {
	if c.RPCMaxRetries <= 0 {
		return DefaultRPCMaxRetries
	}
	return c.RPCMaxRetries
}

func (c Config) Concurrency() int {
	if c.EnrichmentConcurrency <= 0 {
		return DefaultEnrichmentConcurrency
	}
	return c.EnrichmentConcurrency
}

func (c Config) Gateway() string {
	if c.IPFSGatewayUrl == "" {
		return DefaultIPFSGatewayUrl
	}
	return c.IPFSGatewayUrl
}

func (c Config) MetadataTimeout() time.Duration {
	if c.MetadataTimeoutSeconds <= 0 {
		return DefaultMetadataTimeout
	}
	return time.Duration(c.MetadataTimeoutSeconds) * time.Second
}

func (c Config) Backend() string {
	if c.CacheBackend == "" {
		return DefaultCacheBackend
	}
	return c.CacheBackend
}

func (c Config) DbPath() string {
	if c.CacheDbPath == "" {
		return DefaultCacheDbPath
	}
	return c.CacheDbPath
}

func (c Config) NatsSubject() string {
	if c.SignalsNatsSubject == "" {
		return DefaultSignalsNatsSubject
	}
	return c.SignalsNatsSubject
}

var lock = &sync.Mutex{}
var config *Config

var Get = get

func get() Config {
	if config == nil {
		lock.Lock()
		defer lock.Unlock()
		if config == nil {
			c := loadConfig()
			config = &c
		}
	}
	return *config
}

func loadConfig() Config {
	viperAddConfigFile()
	viperAddEnv()
	cfg := initializeCfg()
	debugConfig(cfg)
	return cfg
}

func viperAddConfigFile() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("env")
}

func viperAddEnv() {
	viper.AutomaticEnv()
	// This makes sure that all envs are binded even if they are not represented in config file (https://github.com/spf13/viper/issues/584)
	valueOfConfig := reflect.ValueOf(&Config{}).Elem()
	fieldsOfConfig := reflect.TypeOf(&Config{}).Elem()
	for i := 0; i < valueOfConfig.NumField(); i++ {
		field, _ := fieldsOfConfig.FieldByName(valueOfConfig.Type().Field(i).Name)
		mapStructureVal := field.Tag.Get("mapstructure")
		err := viper.BindEnv(mapStructureVal)
		if err != nil {
			panic(fmt.Sprintf("Error binding env val '%v': %v", mapStructureVal, err))
		}
	}
}

func initializeCfg() Config {
	var cfg Config
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Sprintf("fatal error reading config file: %v", err))
		}
	}

	err = viper.Unmarshal(&cfg)
	if err != nil {
		panic(fmt.Sprintf("error unmarshaling config: %v", err))
	}
	return cfg
}

func debugConfig(cfg Config) {
	if cfg.PrintConfigurationToLogs == "true" {
		b, err := json.Marshal(cfg)
		var result string
		if err != nil {
			result = "[FAILED TO CONVERT CONF TO STRING]"
		} else {
			result = string(b)
		}
		log.Printf("[APP CONFIGURATION]: %v\n", result)
	}
}

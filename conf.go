package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `toml:"version"`
		Title   string `toml:"title"`
	} `toml:"app"`
	Output struct {
		Directory      string `toml:"directory"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
	} `toml:"output"`
	Task struct {
		Workers         int           `toml:"workers"`
		PollInterval    time.Duration `toml:"pollInterval"`
		MaxPollAttempts int           `toml:"maxPollAttempts"`
		MaxPollDuration time.Duration `toml:"maxPollDuration"`
		MaxSplitDepth   int           `toml:"maxSplitDepth"`
		SubmitRate      float64       `toml:"submitRate"`
		SubmitBurst     int           `toml:"submitBurst"`
		Timeout         time.Duration `toml:"timeout"`
		Retries         uint64        `toml:"retries"`
	} `toml:"task"`
	Ledger struct {
		Path string `toml:"path"`
	} `toml:"ledger"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
	Service struct {
		URL               string   `toml:"url"`
		Token             string   `toml:"token"`
		MinLOD            *int     `toml:"minLOD"`
		MaxLOD            *int     `toml:"maxLOD"`
		ExportBy          string   `toml:"exportBy"`
		StorageFormatType string   `toml:"storageFormatType"`
		TilePackage       *bool    `toml:"tilePackage"`
		AreaOfInterest    string   `toml:"areaOfInterest"`
		Params            []string `toml:"params"`
	} `toml:"service"`
	Extent struct {
		XMin       float64 `toml:"xmin"`
		YMin       float64 `toml:"ymin"`
		XMax       float64 `toml:"xmax"`
		YMax       float64 `toml:"ymax"`
		WKID       int     `toml:"wkid"`
		LatestWKID int     `toml:"latestWkid"`
		Geojson    string  `toml:"geojson"`
	} `toml:"extent"`
	Levels []int `toml:"levels"`
}

// InitConf reads the TOML config into conf, exiting when the file is missing.
func InitConf(cfgFile string) {
	c, err := loadConf(cfgFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	conf = c
}

func loadConf(cfgFile string) (*Conf, error) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file(%s) not exist", cfgFile)
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.SetEnvPrefix("TILEEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // e.g. TILEEXPORT_SERVICE_TOKEN
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file(%s) error, details: %s", v.ConfigFileUsed(), err)
	}

	v.SetDefault("app.version", "v 0.1.0")
	v.SetDefault("app.title", "Tile Exporter")
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("task.workers", 4)
	v.SetDefault("task.pollInterval", "5s")
	v.SetDefault("task.maxPollDuration", "2h")
	v.SetDefault("task.maxSplitDepth", 3)
	v.SetDefault("task.timeout", "60s")
	v.SetDefault("task.retries", 3)

	var c Conf
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config file(%s) error, details: %s", v.ConfigFileUsed(), err)
	}
	if c.Service.URL == "" {
		return nil, fmt.Errorf("config file(%s) has no service.url", v.ConfigFileUsed())
	}
	return &c, nil
}

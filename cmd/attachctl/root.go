package main

import (
	"fmt"
	"strings"

	"event-attach/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli 는 명령 사이에 공유하는 상태이다.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
}

// flagKeys 는 persistent flag 와 config 키(=환경변수 이름)의 대응이다.
var flagKeys = map[string]string{
	"feed-url":      "FEED_BASE_URL",
	"feed-token":    "FEED_TOKEN",
	"no-data":       "NO_DATA_TIMEOUT",
	"store-backend": "STORE_BACKEND",
	"log-level":     "LOG_LEVEL",
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "attachctl",
		Short: "Watch resource events and build conversation attachments",
		Long: `attachctl opens a live watch on a resource's event feed, collects
creation events for a while and prints (or submits) the trailing window
as an Events attachment.

Settings come from flags, then environment variables (FEED_BASE_URL,
STORE_BACKEND, ...), then the optional YAML config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "YAML config file (keys as lower-case env names, e.g. feed_base_url)")
	pf.String("feed-url", "", "event feed base URL (FEED_BASE_URL)")
	pf.String("feed-token", "", "bearer token for the feed (FEED_TOKEN)")
	pf.Duration("no-data", 0, "how long to wait for the first frame (NO_DATA_TIMEOUT)")
	pf.String("store-backend", "", "s3, nats, redis or memory (STORE_BACKEND)")
	pf.String("log-level", "", "debug, info, warn, error (LOG_LEVEL)")

	for flag, key := range flagKeys {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(newWatchCmd(c))
	return root
}

// load 는 flag > env > config 파일 순으로 값을 모아 config.LoadFrom 에 넘긴다.
func (c *cli) load() error {
	c.v.AutomaticEnv()
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		c.v.SetConfigType("yaml")
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", c.cfgFile, err)
		}
	}

	cfg, err := config.LoadFrom(c.lookup)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// lookup 은 viper 값을 문자열로 돌려준다.
// 값이 없으면 "" 이고, LoadFrom 이 기본값을 채운다.
func (c *cli) lookup(key string) string {
	if !c.v.IsSet(key) {
		return ""
	}
	// 0 인 duration flag 는 "설정 안 함" 으로 취급한다.
	s := c.v.GetString(key)
	if s == "0s" {
		return ""
	}
	return s
}

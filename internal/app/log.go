package app

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/config"
)

// NewLogger 按 log.level / log.format 构造进程唯一的 logger。
func NewLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	if out != nil {
		log.SetOutput(out)
	}
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(lv)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log.format %q is not one of text, json", cfg.Format)
	}
	return log, nil
}

// Package bus serves completions over NATS.
package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/logger"
)

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
	log  logger.Logger
}

// Connect dials the servers in cfg, or url when it is non-empty.
func Connect(cfg config.BusConfig, url string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Discard()
	}
	if url == "" {
		if len(cfg.Servers) == 0 {
			return nil, errors.New("no NATS servers configured")
		}
		url = strings.Join(cfg.Servers, ",")
	}

	name := cfg.Name
	if name == "" {
		name = "hearth"
	}
	options := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.ConnectTimeout > 0 {
		options = append(options, nats.Timeout(cfg.ConnectTimeout))
	}

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", "servers", url)
	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Package routing announces the proxy's routes to the platform router over
// NATS so the router keeps sending traffic to this instance.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"auth-proxy-go/internal/config"
)

// Announcement is the router.register message body.
type Announcement struct {
	Host string   `json:"host"`
	Port int      `json:"port"`
	URIs []string `json:"uris"`
}

// Registrar publishes an Announcement on start and then on a cron schedule.
// Publishing is fire-and-forget; failures are logged only.
type Registrar struct {
	url      string
	subject  string
	schedule string
	msg      Announcement
	logger   *slog.Logger

	nc        *nats.Conn
	scheduler *cron.Cron
}

// NewRegistrar creates a Registrar from the routing configuration.
func NewRegistrar(cfg *config.Config, logger *slog.Logger) *Registrar {
	rc := cfg.Routing
	return &Registrar{
		url:      rc.NatsURL,
		subject:  rc.Subject,
		schedule: rc.Schedule,
		msg: Announcement{
			Host: rc.Host,
			Port: rc.Port,
			URIs: rc.URIs,
		},
		logger: logger.With("component", "route_registrar"),
	}
}

// Start connects to NATS, announces once and schedules re-announcements.
func (r *Registrar) Start(_ context.Context) error {
	nc, err := nats.Connect(r.url,
		nats.Name("auth-proxy"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				r.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			r.logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("routing: connect %s: %w", r.url, err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(r.schedule, r.announce); err != nil {
		nc.Close()
		return fmt.Errorf("routing: schedule %q: %w", r.schedule, err)
	}

	r.nc = nc
	r.scheduler = scheduler

	r.announce()
	scheduler.Start()

	r.logger.Info("route registration started",
		"subject", r.subject,
		"schedule", r.schedule,
		"uris", r.msg.URIs,
	)
	return nil
}

// Stop waits for a running announcement, bounded by ctx, and drains the
// connection.
func (r *Registrar) Stop(ctx context.Context) error {
	if r.scheduler != nil {
		select {
		case <-r.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	if r.nc == nil {
		return nil
	}
	if err := r.nc.Drain(); err != nil {
		return fmt.Errorf("routing: drain: %w", err)
	}
	return nil
}

func (r *Registrar) announce() {
	data, err := json.Marshal(r.msg)
	if err != nil {
		r.logger.Error("marshal route announcement", "err", err)
		return
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		r.logger.Warn("publish route announcement", "err", err, "subject", r.subject)
		return
	}
	r.logger.Debug("routes announced", "subject", r.subject, "uris", r.msg.URIs)
}

package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/rs/zerolog/log"

	"github.com/go-chi/chi/v5"
	healthgo "github.com/hellofresh/health-go/v5"
)

const shutdownTimeout = 30 * time.Second

type Health interface {
	Start() error
	Stop() error
}

type health struct {
	config config.HealthCheckConfig
	health *healthgo.Health

	server *http.Server
}

func NewHealth(config config.HealthCheckConfig, mqttClient mqtt.Client, wiserClient wiser.Client) Health {
	h, err := healthgo.New(healthgo.WithComponent(healthgo.Component{
		Name:    "wiser-mqtt",
		Version: "v1.0",
	}))
	if err != nil {
		log.Error().Err(err).Msg("Unable to create healthcheck")
		return nil
	}

	checks := []healthgo.Config{
		{
			Name:      "mqtt",
			Timeout:   time.Second * 2,
			SkipOnErr: false,
			Check: func(ctx context.Context) error {
				if mqttClient.RawClient().IsConnectionOpen() {
					log.Debug().Msg("MQTT client is connected")
					return nil
				}
				return errors.New("MQTT client is not connected")
			},
		},
		{
			Name:      "wiser",
			Timeout:   time.Second * 2,
			SkipOnErr: false,
			Check: func(ctx context.Context) error {
				if wiserClient.IsConnected() {
					log.Debug().Msg("Wiser client is connected")
					return nil
				}
				return fmt.Errorf("Wiser client is not connected, state is %s", wiserClient.State())
			},
		},
	}
	for _, check := range checks {
		if err := h.Register(check); err != nil {
			log.Error().Err(err).Str("check", check.Name).Msg("Unable to register healthcheck")
			return nil
		}
	}

	return &health{
		config: config,
		health: h,
	}
}

func (h *health) Start() error {
	listenAddr := fmt.Sprintf("0.0.0.0:%d", h.config.Port)
	h.server = &http.Server{Addr: listenAddr, Handler: h.service()}
	go func() {
		log.Info().Msgf("Starting health check server on %s", listenAddr)
		err := h.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Unable to start health check server")
		}
	}()
	return nil
}

func (h *health) Stop() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Msg("Health check server stopped")
	return nil
}

func (h *health) service() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.health.HandlerFunc)
	r.Get("/health/ready", h.health.HandlerFunc)
	r.Get("/health/live", h.health.HandlerFunc)
	return r
}

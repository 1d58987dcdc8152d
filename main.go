package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/observability"
	"chat-sync/internal/presence"
	"chat-sync/internal/ws"
)

func main() {
	ctx := context.Background()

	serviceName := getEnv("SERVICE_NAME", "chat-sync-relay")

	shutdownTracing, err := observability.SetupTracing(ctx, getEnv("OTLP_ENDPOINT", ""), serviceName)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	amqpURL := getEnv("AMQP_URL", "")
	if amqpURL != "" {
		publisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EXCHANGE", "chat_sync_events"))
		if err != nil {
			log.Printf("amqp unavailable, events disabled: %v", err)
			observability.SetPublisher(observability.NoopPublisher{Reason: err.Error()})
		} else {
			defer publisher.Close()
			observability.SetPublisher(publisher)
		}
	}

	hub := ws.NewHub()
	roster := presence.NewRoster(hub)
	relay := ws.NewRelayHandler(hub, roster, nil)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws", relay.Handle)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "connections": hub.ConnectionCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

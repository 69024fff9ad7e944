package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/quanta-social/feedengine/pkg/api"
	"github.com/quanta-social/feedengine/pkg/config"
	"github.com/quanta-social/feedengine/pkg/engine"
)

func main() {
	// Load dotenv
	godotenv.Load()

	// Init Sentry
	if err := sentry.Init(sentry.ClientOptions{
		Dsn: os.Getenv("SENTRY_DSN"),
	}); err != nil {
		panic(err)
	}

	// Load config
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	// Init Redis
	rdbOpts, err := redis.ParseURL(cfg.Redis.Url)
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(rdbOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		panic(err)
	}

	// Build engine
	eng, err := engine.New(context.Background(), cfg, rdb)
	if err != nil {
		panic(err)
	}
	defer eng.Close()

	// Log significant views for the analytics collaborator
	go func() {
		for view := range eng.Views() {
			log.Printf("significant view: post=%s watched=%s", view.PostId, view.Watched)
		}
	}()

	// Serve HTTP router
	log.Println("Serving engine HTTP on :" + cfg.HTTP.Port)
	if err := http.ListenAndServe(":"+cfg.HTTP.Port, api.Router(eng)); err != nil {
		log.Println(err)
	}

	// Wait for Sentry events to flush
	sentry.Flush(time.Second * 5)
}

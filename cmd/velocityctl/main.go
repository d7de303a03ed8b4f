package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/velocitydrive-serial/pkg/eventlog"
	"github.com/librescoot/velocitydrive-serial/pkg/redis"
	"github.com/librescoot/velocitydrive-serial/pkg/registry"
)

// Configuration flags
var (
	scanInterval    = flag.Duration("scan-interval", 5*time.Second, "Auto-scan interval for new serial devices")
	baudRate        = flag.Int("baud", 115200, "Serial baud rate")
	refreshInterval = flag.Duration("refresh-interval", 0, "Periodic device-info refresh interval per connection (0 disables)")
	redisAddr       = flag.String("redis-addr", "", "Redis server address (empty disables history sink)")
	redisPass       = flag.String("redis-pass", "", "Redis password")
	redisDB         = flag.Int("redis-db", 0, "Redis database number")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting VelocityDRIVE serial core")
	log.Printf("Baud rate: %d", *baudRate)
	log.Printf("Auto-scan interval: %s", *scanInterval)

	sink := eventlog.NewLogSink(log.Default())
	reg := registry.New(registry.DefaultEnumerator, *baudRate, sink)
	reg.SetRefreshInterval(*refreshInterval)
	if *refreshInterval > 0 {
		log.Printf("Device-info refresh interval: %s", *refreshInterval)
	}

	if *redisAddr != "" {
		redisClient, err := redis.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		log.Printf("Connected to Redis at %s", *redisAddr)

		reg.AttachHistorySink(redis.NewHistorySink(redisClient, ""))
	}

	if err := reg.Scan(); err != nil {
		log.Printf("Warning during initial scan: %v", err)
	}
	log.Printf("Discovered devices: %v", reg.All())

	reg.StartAutoScan(*scanInterval)
	log.Printf("Auto-scan started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Printf("Shutting down...")
	reg.Shutdown()
}

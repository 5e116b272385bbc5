package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tarm/serial"

	"github.com/bdube/extruderfin/comm"
	"github.com/bdube/extruderfin/config"
	"github.com/bdube/extruderfin/controller"
	"github.com/bdube/extruderfin/httpstatus"
	"github.com/bdube/extruderfin/scheduler"
	"github.com/bdube/extruderfin/sensor"
)

const helpBlurb = `
Usage: extruderfin CONFIGPATH
Example:
extruderfin cfg.yaml
cat cfg.yaml
serial:
  device: /dev/ttyUSB0
  baud: 115200
nvm:
  path: extruderfin.nvm
http:
  addr: :8080
  enabled: true
dispatch:
  rate_hz: 20
log_level: info
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" {
		fmt.Println(helpBlurb)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onChange := func(c *config.Config, err error) {
		if err != nil {
			log.Printf("extruderfin: config reload failed: %v", err)
			return
		}
		log.Printf("extruderfin: config reloaded (log_level=%s, http.enabled=%v)", c.LogLevel, c.HTTP.Enabled)
	}
	cfg, err := config.Watch(ctx, os.Args[1], onChange)
	if err != nil {
		log.Fatalf("extruderfin: loading %s: %v", os.Args[1], err)
	}

	transport := comm.NewLineTransport(&serial.Config{
		Name: cfg.Serial.Device,
		Baud: cfg.Serial.Baud,
	})
	if err := transport.Open(); err != nil {
		log.Fatalf("extruderfin: opening serial device %s: %v", cfg.Serial.Device, err)
	}
	defer transport.Close()

	core := controller.New(cfg, transport)

	limiter := scheduler.DefaultDispatchRate
	loop := scheduler.NewLoop(core.BuildTasks(limiter)...)

	if cfg.HTTP.Enabled {
		go func() {
			log.Printf("extruderfin: status telemetry listening on %s", cfg.HTTP.Addr)
			if err := http.ListenAndServe(cfg.HTTP.Addr, httpstatus.NewRouter(core)); err != nil {
				log.Printf("extruderfin: status telemetry stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("extruderfin: shutting down")
		cancel()
	}()

	log.Println("extruderfin: scheduler running")
	loop.Run(ctx, sensor.SampleMS*time.Millisecond)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	flags "github.com/jessevdk/go-flags"
	"github.com/pixperk/resmux/pkg/actor"
	"github.com/pixperk/resmux/pkg/client"
	"github.com/pixperk/resmux/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type options struct {
	Resources []string      `short:"r" long:"resource" description:"resource name to add to the pool (repeatable)" default:"res-a" default:"res-b"`
	Workers   int           `short:"w" long:"workers" description:"demo workers competing for the pool" default:"4"`
	HoldTime  time.Duration `long:"hold" description:"how long each worker holds a resource" default:"500ms"`
	MaxWait   time.Duration `long:"max-wait" description:"acquisition wait budget per attempt" default:"10s"`
	DataDir   string        `long:"data-dir" description:"directory for checkpoint storage" default:"./data"`
	HTTPAddr  string        `long:"http-addr" description:"metrics and status HTTP address" default:":8080"`
	LogLevel  string        `long:"log-level" description:"trace|debug|info|warn|error" default:"info"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logrus.Fatalf("invalid log level %q: %v", opts.LogLevel, err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("app", "resmux")

	log.Info("starting resmux coordinator daemon")
	log.WithFields(logrus.Fields{
		"resources": opts.Resources,
		"workers":   opts.Workers,
		"http":      opts.HTTPAddr,
		"data":      opts.DataDir,
	}).Info("configuration")

	store, err := storage.NewBoltStore(opts.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to open checkpoint store")
	}
	defer store.Close()

	runtime := actor.NewRuntime(actor.Config{
		Store:  store,
		Logger: log,
	})

	admin := client.New(runtime, client.Config{RequesterID: "admin", Logger: log})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := admin.AddResources(ctx, opts.Resources...); err != nil {
		log.WithError(err).Fatal("failed to seed resource pool")
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/holders", func(w http.ResponseWriter, r *http.Request) {
		holders, err := admin.Holders(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(holders)
	})
	router.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := admin.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	httpServer := &http.Server{Addr: opts.HTTPAddr, Handler: router}
	go func() {
		log.WithField("addr", opts.HTTPAddr).Info("http endpoints listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// demo workers competing over the pool until interrupted
	group, workerCtx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Workers; i++ {
		worker := client.New(runtime, client.Config{Logger: log})
		group.Go(func() error {
			return runWorker(workerCtx, worker, opts.HoldTime, opts.MaxWait, log)
		})
	}

	<-ctx.Done()
	log.Info("shutting down gracefully")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("worker group exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	runtime.Shutdown()

	log.Info("shutdown complete")
}

func runWorker(ctx context.Context, worker *client.Client, hold, maxWait time.Duration, log *logrus.Entry) error {
	wlog := log.WithField("worker", worker.RequesterID())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := worker.Do(ctx, nil, maxWait, func(ctx context.Context, res *client.Resource) error {
			wlog.WithField("resource", res.Name()).Info("holding resource")
			select {
			case <-time.After(hold):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return ctx.Err()
		default:
			wlog.WithError(err).Warn("acquisition round failed")
		}
	}
}

// File: cmd/spearletd/main.go
// Author: momentics <momentics@gmail.com>
//
// spearletd is the process entrypoint: it loads the [llm] and [[tasks]]
// config files, wires C6 (aiengine) and C7 (functionservice) over the
// runtime adapters this process supports, exposes a Prometheus scrape
// endpoint, and blocks until SIGINT/SIGTERM. Grounded on
// examples/highlevel/hioload-echo/main.go's flag/goroutine/select{}
// shape and server/hioload.go's timeout-bounded Shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lfedgeai/spearlet-core/aiengine"
	"github.com/lfedgeai/spearlet-core/api"
	"github.com/lfedgeai/spearlet-core/config"
	"github.com/lfedgeai/spearlet-core/control"
	"github.com/lfedgeai/spearlet-core/fdtable"
	"github.com/lfedgeai/spearlet-core/functionservice"
	"github.com/lfedgeai/spearlet-core/hostcall"
	"github.com/lfedgeai/spearlet-core/runtimeadapter"
)

const shutdownTimeout = 10 * time.Second

func main() {
	addr := flag.String("addr", ":8090", "status/metrics HTTP listen address")
	llmConfigPath := flag.String("llm-config", "", "path to the [llm] TOML config (optional)")
	tasksConfigPath := flag.String("tasks-config", "", "path to the [[tasks]] TOML config (optional)")
	processListenHost := flag.String("process-listen-host", "127.0.0.1", "host the process runtime adapter listens on for child handshakes")
	flag.Parse()

	promExporter := control.NewPromExporter()

	llmCfg := loadLLMConfig(*llmConfigPath)
	registry := aiengine.BuildRegistry(llmCfg, os.LookupEnv)
	for _, w := range registry.Warnings() {
		log.Printf("aiengine: %s", w)
	}
	engine := aiengine.NewEngine(registry, llmCfg.DefaultModel).WithMetrics(promExporter)

	resolver := loadTaskResolver(*tasksConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := hostcall.NewHost(fdtable.New(), engine)
	adapters := buildAdapterRegistry(ctx, *processListenHost, host)

	svc := functionservice.New(functionservice.DefaultConfig(), resolver, adapters).WithMetrics(promExporter)

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("start function service: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promExporter.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("spearletd listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("status server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("spearletd shutting down")

	shutdownAndWait(httpServer, svc)
}

func loadLLMConfig(path string) aiengine.Config {
	if path == "" {
		return aiengine.Config{}
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open llm config %q: %v", path, err)
	}
	defer f.Close()

	cfg, err := config.LoadLLMConfig(f)
	if err != nil {
		log.Fatalf("load llm config %q: %v", path, err)
	}
	return cfg
}

func loadTaskResolver(path string) *config.StaticTaskResolver {
	if path == "" {
		empty, _ := config.LoadStaticTaskResolverBytes(nil)
		return empty
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open tasks config %q: %v", path, err)
	}
	defer f.Close()

	resolver, err := config.LoadStaticTaskResolver(f)
	if err != nil {
		log.Fatalf("load tasks config %q: %v", path, err)
	}
	return resolver
}

// buildAdapterRegistry starts the process and wasm adapters, always
// available on this host, and registers them under RuntimeProcess and
// RuntimeWasm. The kubernetes adapter additionally needs a kubeconfig
// (a client-go *kubernetes.Clientset) and is left unregistered here; a
// deployment that needs it constructs runtimeadapter.NewKubernetesAdapter
// and adds it to the map before calling runtimeadapter.NewRegistry.
func buildAdapterRegistry(ctx context.Context, listenHost string, host *hostcall.Host) *runtimeadapter.Registry {
	proc, err := runtimeadapter.NewProcessAdapter(listenHost)
	if err != nil {
		log.Fatalf("start process adapter: %v", err)
	}

	wasm, err := runtimeadapter.NewWasmAdapter(ctx, host)
	if err != nil {
		log.Fatalf("start wasm adapter: %v", err)
	}

	return runtimeadapter.NewRegistry(map[api.RuntimeKind]runtimeadapter.RuntimeAdapter{
		api.RuntimeProcess: proc,
		api.RuntimeWasm:    wasm,
	})
}

func shutdownAndWait(httpServer *http.Server, svc *functionservice.Service) {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("status server shutdown error: %v", err)
		}
	case <-time.After(shutdownTimeout):
		log.Printf("status server shutdown timeout after %v", shutdownTimeout)
	}

	if err := svc.Shutdown(); err != nil {
		log.Printf("function service shutdown error: %v", err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/geocluster/internal/api"
	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/clusterplot"
	"github.com/banshee-data/geocluster/internal/config"
	"github.com/banshee-data/geocluster/internal/here"
	"github.com/banshee-data/geocluster/internal/icon"
	"github.com/banshee-data/geocluster/internal/locate"
	"github.com/banshee-data/geocluster/internal/pointstore"
	"github.com/banshee-data/geocluster/internal/rpc"
	"github.com/banshee-data/geocluster/internal/style"
	"github.com/banshee-data/geocluster/internal/version"
)

var (
	configPath  = flag.String("config", "", "Server configuration file (.json, .yaml or .yml)")
	clusterPath = flag.String("cluster-config", "", "Default session options file, overrides the server configuration")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC listen address (empty disables the gRPC server)")
	dbPath      = flag.String("db", "geocluster.db", "Point store path")
	assetHome   = flag.String("home", "", "Base URL or directory for \"@\" icon references")
	gpsPort     = flag.String("gps-port", "", "Serial port of an NMEA GPS receiver (empty disables locate)")
	gpsInit     = flag.String("gps-init", "", "Sentence sent to the GPS receiver at startup, e.g. PMTK220,1000")
	importSpec  = flag.String("import", "", "Import a GeoJSON file as a dataset (name=path) and exit")
	plotOut     = flag.String("plot", "", "Render -dataset at -zoom to this PNG file and exit")
	plotDataset = flag.String("dataset", "", "Dataset to plot")
	plotZoom    = flag.Int("zoom", 5, "Zoom level to plot")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

// loadConfig reads -config and applies the flags given on the command line
// over it.
func loadConfig() (*config.ServerConfig, error) {
	cfg := &config.ServerConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadServerConfig(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.SetListen(*listen)
		case "grpc-listen":
			cfg.SetGRPCListen(*grpcListen)
		case "db":
			cfg.SetDBPath(*dbPath)
		case "home":
			cfg.SetAssetHome(*assetHome)
		case "gps-port":
			cfg.SetGPSPort(*gpsPort)
		}
	})

	if *clusterPath != "" {
		cc, err := config.LoadClusterConfig(*clusterPath)
		if err != nil {
			return nil, err
		}
		cfg.Cluster = cc
	}
	return cfg, nil
}

// parseImportSpec splits "name=path".
func parseImportSpec(spec string) (name, path string, err error) {
	name, path, ok := strings.Cut(spec, "=")
	name, path = strings.TrimSpace(name), strings.TrimSpace(path)
	if !ok || name == "" || path == "" {
		return "", "", fmt.Errorf("import must be name=path, got %q", spec)
	}
	return name, path, nil
}

func runImport(ctx context.Context, store *pointstore.Store, spec string) error {
	name, path, err := parseImportSpec(spec)
	if err != nil {
		return err
	}
	ds, err := store.ImportFile(ctx, name, path)
	if err != nil {
		return err
	}
	log.Printf("imported %d points from %s as dataset %q (%s)", ds.Points, path, ds.Name, ds.ID)
	return nil
}

func runPlot(ctx context.Context, store *pointstore.Store, cc *config.ClusterConfig, dataset string, zoom int, out string) error {
	if dataset == "" {
		return errors.New("-plot needs -dataset")
	}
	points, err := store.LoadDataset(ctx, dataset)
	if err != nil {
		return err
	}
	opts := cc.ToOptions()
	resolver, err := style.NewResolver(opts.Tiers())
	if err != nil {
		return err
	}
	idx, err := cluster.Build(points, opts.Params(resolver.Threshold()))
	if err != nil {
		return err
	}
	if err := clusterplot.Save(out, idx, zoom, clusterplot.Options{Tiers: opts.Tiers(), Labels: true}); err != nil {
		return err
	}
	log.Printf("wrote %s: %d nodes of dataset %q at zoom %d", out, len(idx.Nodes(zoom)), dataset, idx.ClampZoom(zoom))
	return nil
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := pointstore.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open point store: %v", err)
	}
	defer store.Close()

	if *importSpec != "" || *plotOut != "" {
		ctx := context.Background()
		if *importSpec != "" {
			if err := runImport(ctx, store, *importSpec); err != nil {
				log.Fatalf("import failed: %v", err)
			}
		}
		if *plotOut != "" {
			if err := runPlot(ctx, store, cfg.GetClusterConfig(), *plotDataset, *plotZoom, *plotOut); err != nil {
				log.Fatalf("plot failed: %v", err)
			}
		}
		return
	}

	log.Printf("starting %s", version.String())

	fetcher := icon.NewFetcher(nil)
	fetcher.Home = cfg.GetAssetHome()
	fetcher.AssetDir = cfg.GetAssetDir()

	svc := api.NewService(fetcher)
	svc.Store = store
	svc.Defaults = cfg.GetClusterConfig()
	if creds := cfg.Credentials(); creds.AppID != "" && creds.AppCode != "" {
		svc.Geocoder = here.NewClient(creds, nil)
	} else {
		log.Print("no location platform credentials, geocoding disabled")
	}
	defer svc.Close()

	// Create a wait group for the HTTP, gRPC and GPS routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var locator *locate.Locator
	if portName := cfg.GetGPSPort(); portName != "" {
		port, err := locate.OpenPort(portName, locate.PortOptions{BaudRate: cfg.GetGPSBaud()})
		if err != nil {
			log.Fatalf("failed to open GPS port: %v", err)
		}
		locator = locate.NewLocator(port, nil)
		defer locator.Close()
		svc.Locator = locator

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locator.Run(ctx); err != nil {
				log.Printf("GPS monitor error: %v", err)
			}
			log.Print("GPS routine terminated")
		}()

		if *gpsInit != "" {
			if err := locator.SendSentence(*gpsInit); err != nil {
				log.Printf("failed to initialise GPS receiver: %v", err)
			}
		}
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rpc.NewServer(svc).Serve(ctx, addr); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		apiServer := api.NewServer(svc)

		// mount the admin debugging routes (accessible only over loopback or Tailscale)
		debug := tsweb.Debugger(mux)
		if err := store.AttachAdminRoutes(debug); err != nil {
			log.Printf("failed to attach store admin routes: %v", err)
		}
		apiServer.AttachAdminRoutes(debug)
		if locator != nil {
			locator.AttachAdminRoutes(debug)
		}

		mux.Handle("/api/", http.StripPrefix("/api", apiServer.ServeMux()))

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("HTTP server listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Print("graceful shutdown complete")
}

// Command sherpad is Sherpa's daemon: it loads configuration, opens the
// persistence store and the virtualization/container/host-network
// adapters, and serves the WebSocket RPC control plane.
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/config"
	"github.com/bwks/sherpa/internal/containers"
	"github.com/bwks/sherpa/internal/hostnet"
	"github.com/bwks/sherpa/internal/images"
	"github.com/bwks/sherpa/internal/lifecycle"
	"github.com/bwks/sherpa/internal/rpc"
	"github.com/bwks/sherpa/internal/store"
	"github.com/bwks/sherpa/internal/virt"
)

func main() {
	baseDir := os.Getenv("SHERPA_BASE_DIR")

	cfg, err := config.Load(baseDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogrusLevel())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := store.InitDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("init database: %v", err)
	}
	st := store.NewSQLiteStore(db)
	defer st.Close()

	imageReg := images.NewRegistry(st, cfg.BaseDir)
	if err := imageReg.Scan(); err != nil {
		logger.Fatalf("scan image registry: %v", err)
	}

	virtAdapter, err := virt.Connect(cfg.LibvirtURI, virt.WithStoragePool(cfg.StoragePoolName, cfg.StoragePoolPath))
	if err != nil {
		logger.Fatalf("connect to libvirt: %v", err)
	}
	defer virtAdapter.Close()

	containerAdapter, err := containers.Connect()
	if err != nil {
		logger.Fatalf("connect to docker: %v", err)
	}
	defer containerAdapter.Close()

	hostnetAdapter := hostnet.New()

	engine := lifecycle.New(st, imageReg, virtAdapter, containerAdapter, hostnetAdapter,
		lifecycle.WithLabDir(func(labID string) string { return cfg.BaseDir + "/labs/" + labID }),
		lifecycle.WithStoragePool(cfg.StoragePoolName),
		lifecycle.WithManagementCIDR(cfg.ManagementCIDR),
	)

	issuer := auth.NewIssuer(cfg.JWTSecret)
	server := rpc.New(st, issuer, engine, imageReg, containerAdapter, logger)

	logger.Infof("sherpad listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, server); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

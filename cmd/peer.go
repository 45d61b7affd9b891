package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/mbackup/internal/env"
	"github.com/luma/mbackup/peer"
	"github.com/luma/mbackup/storage"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for device links on
	port int

	numListeners int
)

func init() {
	flags := PeerCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 62078, "The port to listen for device links on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 1, "The number of SO_REUSEPORT listeners, 0 means one per CPU")
}

var PeerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Emulate the backup service of a device",
	Long: `Emulate the backup service of a device for local testing.

The peer completes the device link and protocol handshakes, acknowledges
requests and records every message it receives. The record is served
as JSON over HTTP on /journal.

Usage
	mbackup peer --port 62078 --http-port 7362

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(debug)
		if err != nil {
			return err
		}
		defer log.Sync()

		journal := storage.NewInmemoryJournal()
		defer journal.Close()

		tcp := peer.NewTCP(peer.Options{
			Host:            host,
			Port:            port,
			NumListeners:    numListeners,
			ProtocolVersion: conf.PeerProtocolVersion,
			Journal:         journal,
			Log:             log.Named("peer"),
		})

		if err := tcp.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/journal", func(c *gin.Context) {
			value, err := journal.Snapshot()
			if err != nil {
				c.AbortWithError(http.StatusInternalServerError, err)
				return
			}

			c.Data(http.StatusOK, "application/json", value)
		})

		router.GET("/journal/:conn", func(c *gin.Context) {
			value, err := journal.Get(c.Request.Context(), storage.ConnectionPath(c.Param("conn")))
			if err != nil {
				c.AbortWithError(http.StatusInternalServerError, err)
				return
			}

			if len(value) == 0 {
				c.Status(http.StatusNotFound)
				return
			}

			c.Data(http.StatusOK, "application/json", value)
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(ctx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := tcp.Close(); err != nil {
			log.Error("Peer forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

// Command portcullis runs the forwarding HTTP/HTTPS proxy server. The
// flag surface uses cobra/pflag with paired short and long forms, the
// same shape most operators expect from a long-running network daemon.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/logx"
	"github.com/portcullis/portcullis/internal/server"
	"github.com/portcullis/portcullis/internal/session"
)

var flags struct {
	host        string
	port        int
	auth        bool
	banlist     string
	tokens      string
	maxConns    int64
	headTimeout time.Duration
	dialTimeout time.Duration
	logLevel    string
}

var rootCmd = &cobra.Command{
	Use:   "portcullis",
	Short: "forwarding HTTP/HTTPS proxy",
	Long: `portcullis is a forwarding proxy: it accepts client connections,
parses the request head, applies host-ban and optional token
authorization, then either tunnels (CONNECT) or forwards-and-relays
(plain HTTP) to the origin.`,
	RunE: runServe,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.host, "host", "H", "localhost", "address to bind")
	f.IntVarP(&flags.port, "port", "p", 30303, "port to bind (1-65535)")
	f.BoolVarP(&flags.auth, "auth", "a", false, "require Proxy-Authorization tokens")
	f.StringVarP(&flags.banlist, "banlist", "b", "banlist.json", "path to banlist JSON file")
	f.StringVarP(&flags.tokens, "tokens", "t", "tokens.json", "path to tokens JSON file")
	f.Int64Var(&flags.maxConns, "max-conns", 0, "maximum concurrent connections (0 = unlimited)")
	f.DurationVar(&flags.headTimeout, "head-timeout", 30*time.Second, "timeout for reading a request head")
	f.DurationVar(&flags.dialTimeout, "dial-timeout", 10*time.Second, "timeout for dialing the origin")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level: trace|debug|info|warn|error|off")
}

func runServe(cmd *cobra.Command, args []string) error {
	if flags.port < 1 || flags.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", flags.port)
	}
	if err := logx.SetLevelString(flags.logLevel); err != nil {
		return err
	}
	log := logx.New(logx.WithPrefix("main"))

	pol, err := config.Load(config.Options{
		Host:        flags.host,
		Port:        flags.port,
		AuthEnabled: flags.auth,
		BanlistPath: flags.banlist,
		TokensPath:  flags.tokens,
	})
	if err != nil {
		return err
	}

	handler := session.New(pol, flags.dialTimeout, flags.headTimeout, logx.New(logx.WithPrefix("session")))
	addr := fmt.Sprintf("%s:%d", flags.host, flags.port)
	srv := server.New(addr, handler, flags.maxConns, logx.New(logx.WithPrefix("server")))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		srv.Stop(10 * time.Second)
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Errorf("listener failed: %v", err)
		return bindError{err}
	}
	return nil
}

// bindError tags a listener bind failure so main can map it to exit
// code 1 rather than cobra's default exit-2 usage-error path.
type bindError struct{ err error }

func (e bindError) Error() string { return e.err.Error() }
func (e bindError) Unwrap() error { return e.err }

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		var be bindError
		if e, ok := err.(bindError); ok {
			be = e
		}
		fmt.Fprintln(os.Stderr, err)
		if be.err != nil {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

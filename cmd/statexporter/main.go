// Command statexporter serves decoded statistics segment values as
// Prometheus metrics over HTTP, re-reading the segment on every scrape.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simeonmiteff/statseg"
	"github.com/simeonmiteff/statseg/pkg/promexport"
)

const indexPage = `<html>
<head><title>statseg exporter</title></head>
<body>
<h1>statseg exporter</h1>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>`

func main() {
	var socketPath, listenAddr string
	var patterns []string

	cmd := &cobra.Command{
		Use:   "statexporter",
		Short: "Serve a producer's shared statistics segment as Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(socketPath, listenAddr, patterns)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", statseg.DefaultSocketPath, "path to the producer's control socket")
	cmd.Flags().StringVar(&listenAddr, "listen", ":9482", "address to serve /metrics on")
	cmd.Flags().StringArrayVar(&patterns, "pattern", nil, "regular expression a stat name must match (repeatable)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(socketPath, listenAddr string, patterns []string) error {
	logger := logrus.WithField("component", "statexporter")

	client, err := statseg.Connect(socketPath, statseg.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer client.Close()

	collector, err := promexport.New(client, statseg.BuildPatternVector(patterns), func(err error) {
		logger.WithError(err).Warn("statexporter: collect error")
	})
	if err != nil {
		return fmt.Errorf("building collector: %w", err)
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return fmt.Errorf("registering collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(indexPage))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	logger.WithField("addr", listenAddr).Info("statexporter: serving")
	return http.ListenAndServe(listenAddr, mux)
}

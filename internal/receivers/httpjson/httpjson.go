package httpjson

import (
	"compress/gzip"
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platformbuilds/mq-entity-bridge/internal/config"
	"github.com/platformbuilds/mq-entity-bridge/internal/model"
	"github.com/platformbuilds/mq-entity-bridge/internal/receivers/samplejson"
)

const (
	defaultAddr = "0.0.0.0:9428"
	defaultPath = "/v1/samples"
)

// Receiver accepts JSON telemetry samples over HTTP POST. Payloads may be a
// single object, a JSON array, or NDJSON, optionally gzip-encoded.
type Receiver struct {
	addr string
	path string
}

func New(rc config.ReceiverCfg) *Receiver {
	path := rc.ExtraString("path", defaultPath)
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	return &Receiver{
		addr: rc.Endpoint, // e.g. "0.0.0.0:9428"
		path: path,
	}
}

func (r *Receiver) Start(ctx context.Context, out chan<- model.RawSample) error {
	if r.addr == "" {
		r.addr = defaultAddr
	}

	srv := &http.Server{
		Addr:              r.addr,
		Handler:           r.Handler(ctx, out),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// listener to detect address in logs
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	log.Printf("[httpjson] listening on %s path=%s", r.addr, r.path)

	// Serve in background
	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	// Shutdown when ctx is done
	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
		return nil
	case e := <-errCh:
		return e
	}
}

// Handler returns the ingest mux; split out so tests can drive it with httptest.
func (r *Receiver) Handler(ctx context.Context, out chan<- model.RawSample) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(r.path, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var reader io.Reader = req.Body
		defer req.Body.Close()

		// Support gzip-encoded payloads
		if enc := req.Header.Get("Content-Encoding"); strings.Contains(strings.ToLower(enc), "gzip") {
			gr, err := gzip.NewReader(reader)
			if err != nil {
				http.Error(w, "bad gzip", http.StatusBadRequest)
				return
			}
			defer gr.Close()
			reader = gr
		}

		ct := strings.ToLower(req.Header.Get("Content-Type"))
		ndjson := strings.Contains(ct, "ndjson") || strings.Contains(ct, "x-ndjson")

		samples, skipped := samplejson.DecodeStream(reader, ndjson)
		if skipped > 0 {
			log.Printf("[httpjson] skipped %d undecodable samples", skipped)
		}

		for _, s := range samples {
			select {
			case out <- s:
			case <-ctx.Done():
				http.Error(w, "shutting down", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		log.Printf("[httpjson] accepted %d samples", len(samples))
	})
	return mux
}

// Command status-sink is a minimal controller endpoint that verifies and
// prints the status records an agent pushes.
package main

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/ids"
	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/status"
)

const maxBodyBytes = 1 << 20

func main() {
	if err := log.Init(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL")); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	accessKey := os.Getenv("ACCESS_KEY")
	signingKey := os.Getenv("SIGNING_KEY")

	mux := http.NewServeMux()
	mux.Handle("POST /status", statusHandler(accessKey, signingKey))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	log.Info("status sink starting",
		zap.String("port", port),
		zap.Bool("auth", accessKey != ""),
		zap.Bool("signed", signingKey != ""),
	)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

func statusHandler(accessKey, signingKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accessKey != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(accessKey)) != 1 {
				log.Warn("rejected push: bad access key", zap.String("remote", r.RemoteAddr))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "Failed to read body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if signingKey != "" {
			timestamp, err := strconv.ParseInt(r.Header.Get(status.TimestampHeader), 10, 64)
			if err != nil {
				log.Warn("rejected push: invalid timestamp", zap.String("timestamp", r.Header.Get(status.TimestampHeader)))
				http.Error(w, "Invalid timestamp", http.StatusBadRequest)
				return
			}
			signature := strings.TrimPrefix(r.Header.Get(status.SignatureHeader), "sha256=")
			if !status.VerifySignature(signingKey, signature, timestamp, body) {
				log.Warn("rejected push: invalid signature")
				http.Error(w, "Invalid signature", http.StatusUnauthorized)
				return
			}
		}

		var rec status.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			log.Warn("rejected push: invalid payload", zap.Error(err))
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
		if !ids.IsValid(ids.RecordPrefix, rec.ID) {
			log.Warn("rejected push: malformed record id", zap.String("record_id", rec.ID))
			http.Error(w, "Invalid record id", http.StatusBadRequest)
			return
		}

		fields := []zap.Field{
			zap.String("record_id", rec.ID),
			zap.String("agent_id", rec.AgentID),
			zap.Time("timestamp", rec.Timestamp),
			zap.Int("downloads_pending", rec.Queues.Downloads),
			zap.Int("playlist_pending", rec.Queues.Playlist),
			zap.Bool("player_active", rec.Active.Playback),
			zap.Bool("download_active", rec.Active.Download),
		}
		if rec.Playback != nil {
			fields = append(fields, zap.String("playing", rec.Playback.Path), zap.String("state", string(rec.Playback.State)))
		}
		if rec.Download != nil {
			fields = append(fields, zap.Any("downloading", rec.Download))
		}
		if rec.Health != nil {
			fields = append(fields, zap.Any("health", rec.Health))
		}
		log.Info("status received", fields...)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

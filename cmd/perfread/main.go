// Command perfread replays read-aloud runs against a live lectern server
// and reports streaming latency figures.
//
// It creates a reading session over HTTP, opens the session websocket,
// issues play (and optional seek) controls, and measures the gap from each
// control to the first stream_audio_data frame, the per-chunk cadence, and
// the time to the terminal complete event.
//
// Usage:
//
//	go run ./cmd/perfread -base-url http://127.0.0.1:8080 -runs 5 -seeks 2
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/session"
)

type options struct {
	baseURL    string
	userID     string
	voiceID    string
	speed      float64
	runs       int
	seeks      int
	runTimeout time.Duration
	verbose    bool
}

type wsEnvelope struct {
	Type    string  `json:"type"`
	Seq     int     `json:"seq"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
	Code    string  `json:"code"`
	Detail  string  `json:"detail"`
}

// runStats accumulates one play-to-complete measurement.
type runStats struct {
	firstAudio time.Duration
	complete   time.Duration
	chunkGaps  []time.Duration
	chunks     int
	highlights int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfread: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfread: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var runTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "lectern base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.StringVar(&cfg.voiceID, "voice-id", "", "optional voice_id override")
	flag.Float64Var(&cfg.speed, "speed", 0, "optional speed override (0 keeps the server default)")
	flag.IntVar(&cfg.runs, "runs", 3, "number of play-to-complete runs")
	flag.IntVar(&cfg.seeks, "seeks", 0, "random seeks issued per run while streaming")
	flag.IntVar(&runTimeoutMS, "run-timeout-ms", 120000, "timeout waiting for complete per run in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.runs <= 0 {
		return options{}, fmt.Errorf("runs must be > 0")
	}
	if cfg.seeks < 0 {
		return options{}, fmt.Errorf("seeks must be >= 0")
	}
	if cfg.speed != 0 && (cfg.speed < 0.5 || cfg.speed > 2.0) {
		return options{}, fmt.Errorf("speed must be in [0.5,2.0]")
	}
	if runTimeoutMS < 1000 {
		runTimeoutMS = 1000
	}
	cfg.runTimeout = time.Duration(runTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("perfread: session=%s runs=%d seeks=%d\n", sessionID, cfg.runs, cfg.seeks)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 256)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	var all []runStats
	for i := 0; i < cfg.runs; i++ {
		stats, err := measureRun(conn, sessionID, cfg, events, readErrCh)
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("perfread: run %d/%d first_audio=%s complete=%s chunks=%d highlights=%d\n",
				i+1, cfg.runs, stats.firstAudio.Round(time.Millisecond), stats.complete.Round(time.Millisecond), stats.chunks, stats.highlights)
		}
		all = append(all, stats)
	}

	printReport(all)
	return nil
}

// measureRun sends one play control, optionally interleaves seeks, and
// waits for the terminal complete event, timing each stage.
func measureRun(conn *websocket.Conn, sessionID string, cfg options, events <-chan wsEnvelope, readErrCh <-chan error) (runStats, error) {
	var stats runStats

	if err := sendControl(conn, sessionID, cfg, protocol.ActionPlay, nil); err != nil {
		return stats, fmt.Errorf("send play: %w", err)
	}
	controlAt := time.Now()
	deadline := time.NewTimer(cfg.runTimeout)
	defer deadline.Stop()

	seeksLeft := cfg.seeks
	var lastChunkAt time.Time
	for {
		select {
		case err := <-readErrCh:
			return stats, fmt.Errorf("ws read: %w", err)
		case <-deadline.C:
			return stats, fmt.Errorf("timed out after %s waiting for complete", cfg.runTimeout)
		case env := <-events:
			switch env.Type {
			case string(protocol.TypeStreamAudio):
				now := time.Now()
				if stats.chunks == 0 {
					stats.firstAudio = now.Sub(controlAt)
				} else {
					stats.chunkGaps = append(stats.chunkGaps, now.Sub(lastChunkAt))
				}
				stats.chunks++
				lastChunkAt = now

				if seeksLeft > 0 && stats.chunks >= 2 {
					seeksLeft--
					offset := 10 + rand.Float64()*60
					if err := sendControl(conn, sessionID, cfg, protocol.ActionSeek, &offset); err != nil {
						return stats, fmt.Errorf("send seek: %w", err)
					}
					controlAt = time.Now()
					stats.chunks = 0
					stats.chunkGaps = stats.chunkGaps[:0]
					if cfg.verbose {
						fmt.Printf("perfread: seek to %.1f%%\n", offset)
					}
				}
			case string(protocol.TypeHighlight):
				stats.highlights++
			case string(protocol.TypeComplete):
				stats.complete = time.Since(controlAt)
				return stats, nil
			case string(protocol.TypeErrorEvent):
				return stats, fmt.Errorf("server error_event code=%s detail=%s", env.Code, env.Detail)
			}
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	reqBody := session.CreateRequest{
		UserID:   cfg.userID,
		Document: "welcome",
	}
	if strings.TrimSpace(cfg.voiceID) != "" {
		reqBody.VoiceID = strings.TrimSpace(cfg.voiceID)
	}
	if cfg.speed != 0 {
		reqBody.Speed = cfg.speed
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/reader/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created session.CreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", fmt.Errorf("create response missing session_id")
	}
	return created.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/reader/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/reader/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sendControl(conn *websocket.Conn, sessionID string, cfg options, action string, offset *float64) error {
	msg := protocol.ClientControl{
		Type:          protocol.TypeClientControl,
		SessionID:     sessionID,
		Action:        action,
		OffsetPercent: offset,
	}
	if action == protocol.ActionPlay {
		msg.VoiceID = strings.TrimSpace(cfg.voiceID)
		if cfg.speed != 0 {
			msg.Speed = cfg.speed
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case events <- env:
		default:
		}
	}
}

func printReport(runs []runStats) {
	var firsts, completes, gaps []time.Duration
	for _, r := range runs {
		firsts = append(firsts, r.firstAudio)
		completes = append(completes, r.complete)
		gaps = append(gaps, r.chunkGaps...)
	}

	fmt.Println("perfread: report")
	fmt.Printf("  play_to_first_audio  p50=%s p95=%s max=%s\n", quantile(firsts, 0.50), quantile(firsts, 0.95), quantile(firsts, 1.0))
	fmt.Printf("  play_to_complete     p50=%s p95=%s max=%s\n", quantile(completes, 0.50), quantile(completes, 0.95), quantile(completes, 1.0))
	if len(gaps) > 0 {
		fmt.Printf("  inter_chunk_gap      p50=%s p95=%s max=%s (n=%d)\n", quantile(gaps, 0.50), quantile(gaps, 0.95), quantile(gaps, 1.0), len(gaps))
	}
}

func quantile(samples []time.Duration, q float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(q*float64(len(sorted)-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Millisecond)
}

package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lecternfm/lectern/internal/audio"
	"github.com/lecternfm/lectern/internal/protocol"
)

// KokoroConfig configures the local Kokoro synthesis subprocess.
type KokoroConfig struct {
	Python       string
	WorkerScript string
	LangCode     string
	Device       string
}

// KokoroEngine runs a Python Kokoro worker as a long-lived subprocess and
// exchanges newline-delimited JSON over stdin/stdout. The worker handles
// exactly one request at a time; mu keeps the wire protocol in sync.
type KokoroEngine struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	dec        *json.Decoder
	langCode   string
	sampleRate int
	closed     bool
}

type kokoroRequest struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	LangCode string  `json:"lang_code"`
	Speed    float64 `json:"speed"`
}

type kokoroResponse struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	AudioBase64 string `json:"audio_base64"`
	Error       string `json:"error"`
}

// StartKokoroEngine launches the worker, reports load progress through
// observe, and runs a warmup generation so dependency errors surface early.
func StartKokoroEngine(cfg KokoroConfig, observe LoadObserver) (*KokoroEngine, error) {
	py := strings.TrimSpace(cfg.Python)
	if py == "" {
		for _, candidate := range []string{".venv/bin/python3", ".venv/bin/python", "python3"} {
			if p, err := exec.LookPath(candidate); err == nil && strings.TrimSpace(p) != "" {
				py = p
				break
			}
		}
	}
	if py == "" {
		return nil, fmt.Errorf("LECTERN_KOKORO_PYTHON not set and python3 not found on PATH")
	}

	script := strings.TrimSpace(cfg.WorkerScript)
	if script == "" {
		script = "scripts/kokoro_worker.py"
	}
	if !filepath.IsAbs(script) {
		if wd, err := os.Getwd(); err == nil {
			script = filepath.Join(wd, script)
		}
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("kokoro worker script not found: %s", script)
	}

	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		device = "cpu"
	}
	observe.notify(LoadStatus{Stage: protocol.TypeModelLoadStart, Device: device})

	cmd := exec.Command(py, "-u", script)
	cmd.Env = append(os.Environ(), "PYTORCH_ENABLE_MPS_FALLBACK=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	lang := strings.TrimSpace(cfg.LangCode)
	if lang == "" {
		lang = "a"
	}
	e := &KokoroEngine{
		cmd:        cmd,
		stdin:      stdin,
		dec:        json.NewDecoder(stdout),
		langCode:   lang,
		sampleRate: 24000,
	}

	observe.notify(LoadStatus{Stage: protocol.TypeModelLoadProgress, Progress: 0.5})

	// Warmup: loads the model weights and pins the actual sample rate.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := e.Generate(ctx, "warmup", Options{Voice: DefaultVoice, Speed: 1.0}); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("kokoro worker failed to start: %s", msg)
	}

	observe.notify(LoadStatus{Stage: protocol.TypeModelLoadReady})
	return e, nil
}

func (e *KokoroEngine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

// Generate synthesizes one chunk. A call in progress runs to completion;
// the context is only honored before the request is written.
func (e *KokoroEngine) Generate(ctx context.Context, text string, opts Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("kokoro worker closed")
	}

	voice := strings.TrimSpace(opts.Voice)
	if voice == "" {
		voice = DefaultVoice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}

	id := fmt.Sprintf("req-%d", time.Now().UnixNano())
	line := kokoroRequest{ID: id, Text: text, Voice: voice, LangCode: e.langCode, Speed: speed}
	b, _ := json.Marshal(line)
	b = append(b, '\n')
	if _, err := e.stdin.Write(b); err != nil {
		return nil, err
	}

	// Decode exactly one response (single-flight guarded by mu).
	var resp kokoroResponse
	if err := e.dec.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.ID != id {
		return nil, fmt.Errorf("kokoro worker out-of-sync (got %q, expected %q)", resp.ID, id)
	}
	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "unknown kokoro error"
		}
		return nil, fmt.Errorf("%s", msg)
	}
	if strings.TrimSpace(resp.AudioBase64) == "" {
		return []float32{}, nil
	}

	payload, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio_base64: %w", err)
	}

	var pcm []byte
	rate := resp.SampleRate
	if strings.HasPrefix(strings.TrimSpace(resp.Format), "wav") {
		pcm, rate, err = audio.DecodeWAVPCM16(payload)
		if err != nil {
			return nil, fmt.Errorf("decode worker wav: %w", err)
		}
	} else {
		pcm = payload
	}
	if rate > 0 {
		e.sampleRate = rate
	}
	return audio.Float32FromPCM16(pcm), nil
}

func (e *KokoroEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stdin := e.stdin
	cmd := e.cmd
	e.stdin = nil
	e.cmd = nil
	e.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(1200 * time.Millisecond):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

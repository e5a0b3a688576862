package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zaqqye/proctor_backend_v1/internal/probe"
)

// The probe client simulates the exam-taker side: it samples frames from a
// file or directory, reports focus-loss events (SIGUSR1) and renders the
// server-authoritative escalation state.
func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("PROCTOR_SERVER", "http://127.0.0.1:8080"), "backend base URL")
	session := flag.String("session", uuid.NewString(), "session token (default: fresh)")
	student := flag.String("student", "student-1", "student identifier")
	exam := flag.String("exam", "exam-1", "exam identifier")
	frames := flag.String("frames", "", "still image file or directory to sample from")
	interval := flag.Duration("interval", 3*time.Second, "probe interval")
	flag.Parse()

	if *frames == "" {
		log.Fatal("missing -frames: need a still image file or directory")
	}

	zl, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	source, err := newFileSource(*frames)
	if err != nil {
		log.Fatalf("frame source: %v", err)
	}

	recorder := probe.NewAPIClient(*server, 30*time.Second)
	loop := probe.NewLoop(source, recorder, probe.Config{
		SessionID: *session,
		StudentID: *student,
		ExamID:    *exam,
		Interval:  *interval,
		Logger:    logger,
		OnUpdate:  render(logger),
	})

	ctx := context.Background()
	if err := loop.Start(ctx); err != nil {
		log.Fatalf("start monitoring: %v", err)
	}
	logger.Infow("monitoring started", "session_id", *session, "server", *server)
	logger.Info("send SIGUSR1 to simulate a focus-loss event")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGUSR1 {
				loop.FocusLost()
				continue
			}
			logger.Info("stopping monitoring")
			loop.Stop()
			return
		}
	}()

	loop.Wait()
	final := loop.Snapshot()
	if final.Terminated {
		logger.Warnw("exam terminated", "warnings", final.Warnings, "tab_switches", final.TabSwitches)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func render(logger *zap.SugaredLogger) func(probe.Status) {
	var mu sync.Mutex
	lastNotice := ""
	return func(s probe.Status) {
		mu.Lock()
		defer mu.Unlock()
		if s.LastError != "" {
			logger.Warnw("probe error, keeping last-known metrics", "error", s.LastError)
			return
		}
		logger.Infow("reading",
			"face", s.FaceStatus,
			"faces", s.FaceCount,
			"head", s.HeadDirection,
			"looking_away", s.LookingAway,
			"score", s.CheatingScore,
			"risk", s.RiskLevel,
			"warnings", s.Warnings,
			"tab_switches", s.TabSwitches,
		)
		if notice := probe.Notice(s.Warnings); notice != "" && notice != lastNotice {
			lastNotice = notice
			logger.Warn(notice)
		}
		if s.Terminated {
			logger.Warn("session is terminated; monitoring paused")
		}
	}
}

// fileSource cycles over still images, encoding each as a JPEG/PNG data
// URL the way the browser client would.
type fileSource struct {
	mu    sync.Mutex
	paths []string
	next  int
}

func newFileSource(path string) (*fileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".jpg", ".jpeg", ".png":
				paths = append(paths, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{path}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", path)
	}
	return &fileSource{paths: paths}, nil
}

func (f *fileSource) Capture() (string, error) {
	f.mu.Lock()
	path := f.paths[f.next%len(f.paths)]
	f.next++
	f.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", probe.ErrWebcamUnavailable, err)
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

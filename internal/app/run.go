package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/goassist/internal/assist"
	"github.com/petervdpas/goassist/internal/config"
	"github.com/petervdpas/goassist/internal/confirm"
	"github.com/petervdpas/goassist/internal/diag"
	"github.com/petervdpas/goassist/internal/host"
	"github.com/petervdpas/goassist/internal/media/capture"
	"github.com/petervdpas/goassist/internal/peer"
	"github.com/petervdpas/goassist/internal/signal"
	"github.com/petervdpas/goassist/internal/store"
	"github.com/petervdpas/goassist/internal/title"
)

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config
	// In and Out carry the confirmation prompts. Default to stdin/stdout.
	In  io.Reader
	Out io.Writer
}

// Run drives one capture session until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if opt.In == nil {
		opt.In = os.Stdin
	}
	if opt.Out == nil {
		opt.Out = os.Stdout
	}

	logBuf := diag.NewLogBuffer(cfg.Log.BufferSize)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))
	logBanner(opt.Dir, opt.CfgPath)

	if cfg.Log.WebRTCLevel != "" {
		if err := peer.SetLogLevel(cfg.Log.WebRTCLevel); err != nil {
			log.Printf("APP: webrtc log level: %v", err)
		}
	}

	// ── Capture host
	h := host.New(host.Options{
		ProjectKey:  cfg.Session.ProjectKey,
		SessionID:   cfg.Session.SessionID,
		UserID:      cfg.Session.UserID,
		CommitEvery: time.Duration(cfg.Session.CommitSec) * time.Second,
	})
	peerID := signal.PeerID(h.ProjectKey(), h.SessionID())
	log.Printf("APP: session %s", peerID)

	// ── Session storage
	var st store.Store = store.NewMemory()
	if cfg.Storage.Path != "" {
		db, err := store.OpenSQLite(cfg.StorePath(opt.Dir), peerID)
		if err != nil {
			return err
		}
		defer db.Close()
		st = db
	}

	// ── Local media + peer transport
	dev, err := capture.New(capture.Options{
		MaxWidth:  cfg.Media.MaxWidth,
		MaxHeight: cfg.Media.MaxHeight,
		VideoBPS:  cfg.Media.VideoKbps * 1000,
		NoVideo:   cfg.Media.NoVideo,
		PreferCam: cfg.Media.PreferredCam,
		PreferMic: cfg.Media.PreferredMic,
	})
	if err != nil {
		return err
	}
	streams := &streamTracker{acquire: dev.Acquire}

	var ice []webrtc.ICEServer
	if len(cfg.Peer.ICEServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: cfg.Peer.ICEServers}}
	}
	tr, err := peer.New(peer.Config{
		Endpoint:       cfg.Backend.PeerURL(),
		ICEServers:     ice,
		Heartbeat:      time.Duration(cfg.Peer.HeartbeatSec) * time.Second,
		ReconnectDelay: time.Duration(cfg.Peer.ReconnectSec) * time.Second,
		Populate:       dev.Populate,
	})
	if err != nil {
		return err
	}

	// ── Console surfaces
	con := newConsole(opt.Out)
	term := confirm.NewTerminal(opt.In, opt.Out)

	var src title.Source = title.Static(cfg.Session.Title)
	if path := cfg.TitlePath(opt.Dir); path != "" {
		src = title.NewFile(path)
	}

	debugf := func(string, ...any) {}
	if cfg.Log.Frames {
		debugf = log.Printf
	}

	a, err := assist.New(h, assist.Options{
		SignalEndpoint: cfg.Backend.SignalURL(),
		Debugf:         debugf,
		CallingPeerKey: cfg.Storage.CallingPeerKey,
		ControlPeerKey: cfg.Storage.ControlPeerKey,
		Store:          st,
		Transport:      tr,
		CallPrompt:     func() confirm.Prompt { return term.Prompt(cfg.CallConfirm) },
		ControlPrompt:  func() confirm.Prompt { return term.Prompt(cfg.ControlConfirm) },
		Media:          streams.Acquire,
		NewCallUI:      con.callWindow,
		Pointer:        con.pointer(),
		Title:          src,
		BatchFilter:    assist.StatsOnly(cfg.Batch.StatsOnlyIDs...),

		OnAgentConnect:       con.notice("agent connected", "agent disconnected"),
		OnCallStart:          con.notice("call started", "call ended"),
		OnRemoteControlStart: con.notice("remote control started", "remote control ended"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	tr.OnCall(func(c *peer.Call) { a.HandleOffer(c) })

	// ── Debug endpoint (optional)
	if cfg.Debug.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Debug.HTTPAddr)
		mux := http.NewServeMux()
		logBuf.Register(mux)
		endCall := func() {
			if !con.hangup() {
				a.EndCall()
			}
		}
		registerControl(mux, a, endCall, func(deviceID string) error {
			s := streams.Current()
			if s == nil {
				return errNoStream
			}
			return dev.SwitchVideo(s, deviceID)
		})
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("APP: debug server: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Printf("APP: debug endpoint %s", url)
	}

	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	h.Stop()
	log.Printf("APP: shutting down")
	return nil
}

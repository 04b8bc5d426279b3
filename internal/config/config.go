package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/petervdpas/goassist/internal/confirm"
)

type Config struct {
	Backend        Backend         `json:"backend"`
	Session        Session         `json:"session"`
	Storage        Storage         `json:"storage"`
	Peer           Peer            `json:"peer"`
	Media          Media           `json:"media"`
	CallConfirm    confirm.Options `json:"call_confirm"`
	ControlConfirm confirm.Options `json:"control_confirm"`
	Batch          Batch           `json:"batch"`
	Log            Log             `json:"log"`
	Debug          Debug           `json:"debug"`
}

type Backend struct {
	// Host is the assist backend, host[:port].
	Host string `json:"host"`

	// Secure selects wss:// over ws://.
	Secure bool `json:"secure"`

	// Signaling websocket path, e.g. "/ws-assist/socket".
	SignalPath string `json:"signal_path"`

	// Peer broker mount path. The broker socket lives at <PeerPath>/peerjs.
	PeerPath string `json:"peer_path"`
}

// Session describes the captured session the demo host announces.
type Session struct {
	ProjectKey string `json:"project_key"`

	// SessionID is fixed when set; otherwise a fresh id is made per run.
	SessionID string `json:"session_id"`

	UserID string `json:"user_id"`

	// TitleFile is watched for the page title. Empty means a fixed title.
	TitleFile string `json:"title_file"`
	Title     string `json:"title"`

	// Seconds between synthetic capture batches.
	CommitSec int `json:"commit_seconds"`
}

type Storage struct {
	// SQLite file relative to the run directory. Empty keeps keys in memory.
	Path string `json:"path"`

	CallingPeerKey string `json:"calling_peer_key"`
	ControlPeerKey string `json:"control_peer_key"`
}

type Peer struct {
	ICEServers   []string `json:"ice_servers"`
	HeartbeatSec int      `json:"heartbeat_seconds"`
	ReconnectSec int      `json:"reconnect_seconds"`
}

type Media struct {
	MaxWidth     int    `json:"max_width"`
	MaxHeight    int    `json:"max_height"`
	VideoKbps    int    `json:"video_kbps"`
	NoVideo      bool   `json:"no_video"`
	PreferredCam string `json:"preferred_cam"`
	PreferredMic string `json:"preferred_mic"`
}

type Batch struct {
	// Batches made of exactly these record ids, in order, are not relayed.
	StatsOnlyIDs []int `json:"stats_only_ids"`
}

type Log struct {
	BufferSize int `json:"buffer_size"`

	// go-log level for the webrtc subsystems: debug, info, warn, error.
	WebRTCLevel string `json:"webrtc_level"`

	// Mirror every inbound signaling frame into the log.
	Frames bool `json:"frames"`
}

type Debug struct {
	// HTTPAddr serves the log buffer when set, e.g. "127.0.0.1:7070".
	HTTPAddr string `json:"http_addr"`
}

func Default() Config {
	return Config{
		Backend: Backend{
			Host:       "127.0.0.1:9001",
			Secure:     false,
			SignalPath: "/ws-assist/socket",
			PeerPath:   "/assist",
		},
		Session: Session{
			ProjectKey: "demo",
			Title:      "Home",
			CommitSec:  5,
		},
		Storage: Storage{
			Path:           "data/session.db",
			CallingPeerKey: "__openreplay_calling_peer",
			ControlPeerKey: "__openreplay_control_peer",
		},
		Peer: Peer{
			ICEServers:   []string{"stun:stun.l.google.com:19302"},
			HeartbeatSec: 5,
			ReconnectSec: 3,
		},
		Media: Media{
			MaxWidth:  640,
			MaxHeight: 480,
			VideoKbps: 500,
		},
		CallConfirm:    confirm.CallDefaults(confirm.Options{}),
		ControlConfirm: confirm.ControlDefaults(confirm.Options{}),
		Batch: Batch{
			StatsOnlyIDs: []int{0, 49},
		},
		Log: Log{
			BufferSize:  1000,
			WebRTCLevel: "warn",
		},
	}
}

func (c *Config) Validate() error {
	// Backend
	if strings.TrimSpace(c.Backend.Host) == "" {
		return errors.New("backend.host is required")
	}
	if strings.Contains(c.Backend.Host, "://") {
		return errors.New("backend.host must not include a scheme; use backend.secure")
	}
	if !strings.HasPrefix(c.Backend.SignalPath, "/") {
		return errors.New("backend.signal_path must start with /")
	}
	if !strings.HasPrefix(c.Backend.PeerPath, "/") {
		return errors.New("backend.peer_path must start with /")
	}

	// Session
	if strings.TrimSpace(c.Session.ProjectKey) == "" {
		return errors.New("session.project_key is required")
	}
	if strings.Contains(c.Session.ProjectKey, "-") {
		return errors.New("session.project_key must not contain '-'")
	}
	if c.Session.CommitSec <= 0 {
		return errors.New("session.commit_seconds must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.CallingPeerKey) == "" || strings.TrimSpace(c.Storage.ControlPeerKey) == "" {
		return errors.New("storage.calling_peer_key and storage.control_peer_key are required")
	}
	if c.Storage.CallingPeerKey == c.Storage.ControlPeerKey {
		return errors.New("storage.calling_peer_key and storage.control_peer_key must differ")
	}

	// Peer
	if c.Peer.HeartbeatSec <= 0 {
		return errors.New("peer.heartbeat_seconds must be > 0")
	}
	if c.Peer.ReconnectSec <= 0 {
		return errors.New("peer.reconnect_seconds must be > 0")
	}
	for _, s := range c.Peer.ICEServers {
		if err := validateICE(s); err != nil {
			return fmt.Errorf("peer.ice_servers: %w", err)
		}
	}

	// Media
	if c.Media.MaxWidth < 0 || c.Media.MaxHeight < 0 || c.Media.VideoKbps < 0 {
		return errors.New("media limits must be >= 0")
	}

	// Log
	switch strings.ToLower(c.Log.WebRTCLevel) {
	case "", "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("log.webrtc_level %q is not a log level", c.Log.WebRTCLevel)
	}
	if c.Log.BufferSize <= 0 {
		return errors.New("log.buffer_size must be > 0")
	}

	// Debug
	if a := c.Debug.HTTPAddr; a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("debug.http_addr: %w", err)
		}
	}

	return nil
}

func validateICE(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("%q: scheme must be stun, stuns, turn or turns", raw)
	}
	if u.Opaque == "" && u.Host == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}

func (b Backend) scheme() string {
	if b.Secure {
		return "wss"
	}
	return "ws"
}

// SignalURL is the signaling websocket endpoint.
func (b Backend) SignalURL() string {
	return b.scheme() + "://" + b.Host + b.SignalPath
}

// PeerURL is the peer broker websocket endpoint.
func (b Backend) PeerURL() string {
	return b.scheme() + "://" + b.Host + strings.TrimSuffix(b.PeerPath, "/") + "/peerjs"
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.CallConfirm = confirm.CallDefaults(cfg.CallConfirm)
	cfg.ControlConfirm = confirm.ControlDefaults(cfg.ControlConfirm)
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Save validates cfg and writes it next to path first, so a crash mid-write
// never leaves a truncated assist.json behind.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// StorePath is the session database location for a run directory. An
// absolute Storage.Path ignores dir.
func (c Config) StorePath(dir string) string {
	return resolve(dir, c.Storage.Path)
}

// TitlePath is the watched title file for a run directory, or "" when no
// title file is configured.
func (c Config) TitlePath(dir string) string {
	if c.Session.TitleFile == "" {
		return ""
	}
	return resolve(dir, c.Session.TitleFile)
}

// resolve is filepath.Join except that an absolute rel wins over dir.
func resolve(dir, rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(dir, rel)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
